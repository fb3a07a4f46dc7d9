package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type echoIn struct {
	N int `json:"n"`
}

func TestSpawnAwaitTyped(t *testing.T) {
	ex := NewLocalExecutor(nil)
	Register(ex, "double", func(ctx context.Context, in echoIn) (int, error) {
		return in.N * 2, nil
	})

	task, err := Spawn[int](context.Background(), ex, "double", echoIn{N: 21})
	if err != nil {
		t.Fatal(err)
	}
	got, err := task.Await(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestAwaitStillPending(t *testing.T) {
	ex := NewLocalExecutor(nil)
	release := make(chan struct{})
	Register(ex, "block", func(ctx context.Context, _ struct{}) (string, error) {
		<-release
		return "ok", nil
	})

	task, err := Spawn[string](context.Background(), ex, "block", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := task.Await(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrStillPending) {
		t.Fatalf("err = %v, want ErrStillPending", err)
	}

	close(release)
	got, err := task.Await(context.Background(), time.Second)
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSpawnUnknownOperation(t *testing.T) {
	ex := NewLocalExecutor(nil)
	if _, err := ex.Spawn(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("err = %v", err)
	}
}

func TestSpawnWithIDIsIdempotent(t *testing.T) {
	ex := NewLocalExecutor(nil)
	calls := 0
	var mu sync.Mutex
	Register(ex, "once", func(ctx context.Context, _ struct{}) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 1, nil
	})

	a, _ := ex.Spawn(context.Background(), "once", struct{}{}, WithID("job-1"))
	b, _ := ex.Spawn(context.Background(), "once", struct{}{}, WithID("job-1"))
	if a.ID() != b.ID() {
		t.Fatalf("ids differ: %s vs %s", a.ID(), b.ID())
	}
	if _, err := a.Await(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func TestProgressTreeAndPool(t *testing.T) {
	ex := NewLocalExecutor(nil, WithPool("leaf", 2))

	Register(ex, "leaf", func(ctx context.Context, in echoIn) (int, error) {
		if in.N == 3 {
			return 0, errors.New("leaf 3 failed")
		}
		return in.N, nil
	})
	Register(ex, "parent", func(ctx context.Context, _ struct{}) (int, error) {
		var tasks []*Task[int]
		for i := 0; i < 5; i++ {
			task, err := Spawn[int](ctx, ex, "leaf", echoIn{N: i})
			if err != nil {
				return 0, err
			}
			tasks = append(tasks, task)
		}
		sum := 0
		for _, task := range tasks {
			n, _ := task.Await(ctx, 0)
			sum += n
		}
		return sum, nil
	})

	root, err := Spawn[int](context.Background(), ex, "parent", struct{}{}, WithID("root"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.Await(context.Background(), 5*time.Second); err != nil {
		t.Fatal(err)
	}

	tree, err := root.Progress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tree.Status != StatusSuccess || len(tree.Children) != 5 {
		t.Fatalf("unexpected tree: %+v", tree)
	}

	workers := map[string]bool{}
	failed := 0
	for _, leaf := range tree.Leaves() {
		workers[leaf.WorkerID] = true
		if leaf.Status == StatusFailed {
			failed++
			if leaf.Error == "" {
				t.Error("failed leaf has no error text")
			}
		}
	}
	if len(workers) > 2 {
		t.Fatalf("pool of 2 used %d workers: %v", len(workers), workers)
	}
	if failed != 1 {
		t.Fatalf("failed leaves = %d, want 1", failed)
	}

	// Lookup finds children too.
	if _, err := ex.Lookup(context.Background(), tree.Children[0].ID); err != nil {
		t.Fatalf("lookup child: %v", err)
	}
	if _, err := ex.Lookup(context.Background(), "missing"); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("lookup missing: %v", err)
	}
}

func TestRootOutlivesCallerContext(t *testing.T) {
	ex := NewLocalExecutor(nil)
	started := make(chan struct{})
	Register(ex, "slow", func(ctx context.Context, _ struct{}) (string, error) {
		close(started)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return "done", nil
		}
	})

	callerCtx, cancel := context.WithCancel(context.Background())
	task, err := Spawn[string](callerCtx, ex, "slow", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	<-started
	cancel()

	got, err := task.Await(context.Background(), time.Second)
	if err != nil || got != "done" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestCancel(t *testing.T) {
	ex := NewLocalExecutor(nil)
	Register(ex, "wait", func(ctx context.Context, _ struct{}) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	task, err := Spawn[string](context.Background(), ex, "wait", struct{}{})
	if err != nil {
		t.Fatal(err)
	}
	task.Cancel()
	if _, err := task.Await(context.Background(), time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	ex := NewLocalExecutor(nil)
	Register(ex, "boom", func(ctx context.Context, _ struct{}) (int, error) {
		panic("kaboom")
	})
	task, _ := Spawn[int](context.Background(), ex, "boom", struct{}{})
	if _, err := task.Await(context.Background(), time.Second); err == nil {
		t.Fatal("expected error from panicking handler")
	}
}
