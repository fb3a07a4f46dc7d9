package records

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"

	"github.com/opebus/yt-university/pkg/pipeline"
)

func exerciseStore(t *testing.T, s Store, id string) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, id); !errors.Is(err, pipeline.ErrNotFound) {
		t.Fatalf("get before insert: %v", err)
	}

	meta := pipeline.VideoMetadata{ID: id, Title: "Talk", Duration: 90, Language: "en"}
	if _, err := s.Upsert(ctx, id, MetadataPatch("https://www.youtube.com/watch?v="+id, "u1", meta)); err != nil {
		t.Fatal(err)
	}
	tr := &pipeline.Transcript{Chunks: []pipeline.Chunk{{Text: "hi", Start: 0, End: 1}}, Text: "hi", Language: "en"}
	if _, err := s.Upsert(ctx, id, Patch{Transcription: tr}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, id, Patch{Summary: Ptr("essay")}); err != nil {
		t.Fatal(err)
	}
	// Re-running the first stage must not erase later fields.
	r, err := s.Upsert(ctx, id, MetadataPatch("https://www.youtube.com/watch?v="+id, "", meta))
	if err != nil {
		t.Fatal(err)
	}

	if r.Title != "Talk" || r.Duration != 90 || r.Summary != "essay" || r.UserID != "u1" {
		t.Fatalf("record = %+v", r)
	}
	if r.Transcription == nil || r.Transcription.Chunks[0].Text != "hi" {
		t.Fatalf("transcription = %+v", r.Transcription)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "essay" || got.Category != "" {
		t.Fatalf("get = %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "abc123")
}

func TestMemoryStoreConcurrentUpserts(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert(context.Background(), "same", Patch{Title: Ptr("t")})
		}()
	}
	wg.Wait()
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	tr := &pipeline.Transcript{Chunks: []pipeline.Chunk{{Text: "a"}}}
	r, _ := s.Upsert(context.Background(), "x", Patch{Transcription: tr})
	r.Transcription.Chunks[0].Text = "mutated"

	got, _ := s.Get(context.Background(), "x")
	if got.Transcription.Chunks[0].Text != "a" {
		t.Fatal("stored record was mutated through a returned copy")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s, err := NewPostgresStore(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	id := "test-" + t.Name()
	db.Exec(`DELETE FROM video WHERE id = $1`, id)
	defer db.Exec(`DELETE FROM video WHERE id = $1`, id)

	exerciseStore(t, s, id)
}
