package dedupe

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/opebus/yt-university/internal/logger"
)

const (
	shardCount = 32

	// minSweepInterval bounds the sweeper when neither an interval nor a TTL is set
	minSweepInterval = time.Second
)

// Admission is the outcome of Controller.Admit
type Admission struct {
	// JobID is the job registered under the key: the caller's own job when
	// Admitted is true, otherwise the in-flight job that won the key.
	JobID    string
	Admitted bool
}

type entry struct {
	jobID      string
	admittedAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Controller collapses duplicate submissions of the same key within a TTL
// window onto one job. Check-and-insert is atomic per key; unrelated keys
// only contend when they hash to the same shard.
type Controller struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard
	log    *logger.Logger

	// OnSizeChange, when set, receives the entry count after every mutation.
	OnSizeChange func(int)
}

// NewController creates a controller whose entries go stale after ttl
func NewController(ttl time.Duration, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	c := &Controller{
		ttl: ttl,
		now: time.Now,
		log: log.Component("dedupe"),
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return c
}

func (c *Controller) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Admit registers jobID under key unless a fresh entry already exists, in
// which case the existing job is returned. force always registers jobID,
// replacing whatever was there.
func (c *Controller) Admit(key, jobID string, force bool) Admission {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	if existing, ok := s.entries[key]; ok && !force && now.Sub(existing.admittedAt) < c.ttl {
		s.mu.Unlock()
		return Admission{JobID: existing.jobID}
	}
	s.entries[key] = entry{jobID: jobID, admittedAt: now}
	s.mu.Unlock()

	c.sizeChanged()
	return Admission{JobID: jobID, Admitted: true}
}

// Release removes key if it is still held by jobID. Used when the job
// could not be started after admission.
func (c *Controller) Release(key, jobID string) {
	s := c.shardFor(key)
	s.mu.Lock()
	released := false
	if e, ok := s.entries[key]; ok && e.jobID == jobID {
		delete(s.entries, key)
		released = true
	}
	s.mu.Unlock()

	if released {
		c.sizeChanged()
	}
}

// Lookup returns the job currently held for key, if fresh
func (c *Controller) Lookup(key string) (string, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || now.Sub(e.admittedAt) >= c.ttl {
		return "", false
	}
	return e.jobID, true
}

// Sweep drops stale entries and returns how many were removed
func (c *Controller) Sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if now.Sub(e.admittedAt) >= c.ttl {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.sizeChanged()
	}
	return removed
}

// Len returns the number of entries, stale ones included
func (c *Controller) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps stale entries every interval until ctx is done
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	if interval <= 0 {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.WithField("removed", n).Debug("swept stale admissions")
			}
		}
	}
}

func (c *Controller) sizeChanged() {
	if c.OnSizeChange != nil {
		c.OnSizeChange(c.Len())
	}
}
