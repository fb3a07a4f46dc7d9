package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/opebus/yt-university/internal/openai"
	"github.com/opebus/yt-university/pkg/pipeline"
)

type fakeCompleter struct {
	calls   [][]openai.Message
	answers []string
	err     error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []openai.Message, temperature float64) (string, error) {
	f.calls = append(f.calls, messages)
	if f.err != nil {
		return "", f.err
	}
	if len(f.answers) == 0 {
		return "summary", nil
	}
	out := f.answers[0]
	f.answers = f.answers[1:]
	return out, nil
}

func TestEstimateTokens(t *testing.T) {
	if n := EstimateTokens(""); n != 0 {
		t.Fatalf("empty text = %d tokens", n)
	}
	if n := heuristicTokens("abcdefghi"); n != 3 {
		t.Fatalf("heuristic = %d, want 3", n)
	}

	n := EstimateTokens("hello world")
	if tokenizer() == nil {
		if n != heuristicTokens("hello world") {
			t.Fatalf("fallback = %d", n)
		}
		return
	}
	if n != 2 {
		t.Fatalf("hello world = %d tokens, want 2", n)
	}
}

func TestChunkOnDelimiter(t *testing.T) {
	text := strings.Repeat("abcdefgh.", 10)
	chunks := ChunkOnDelimiter(text, 6, ".")
	if len(chunks) < 2 {
		t.Fatalf("chunks = %q", chunks)
	}
	for _, c := range chunks {
		if EstimateTokens(c) > 6 {
			t.Fatalf("chunk over budget: %q", c)
		}
	}
	if joined := strings.Join(chunks, "."); joined != text {
		t.Fatalf("chunks lost text: %q", joined)
	}
}

func TestChunkOnDelimiterDropsOversizedPiece(t *testing.T) {
	chunks := ChunkOnDelimiter("short."+strings.Repeat("x", 400)+".tail", 8, ".")
	if len(chunks) != 1 || !strings.Contains(chunks[0], overflowMarker) {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestSummarizeShortTranscriptSingleCall(t *testing.T) {
	llm := &fakeCompleter{answers: []string{"essay"}}
	got, err := New(llm, nil).Summarize(context.Background(), "My Talk", "a short transcript")
	if err != nil {
		t.Fatal(err)
	}
	if got != "essay" || len(llm.calls) != 1 {
		t.Fatalf("got %q after %d calls", got, len(llm.calls))
	}
	if prompt := llm.calls[0][0].Content; !strings.Contains(prompt, "My Talk") || !strings.Contains(prompt, "a short transcript") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestSummarizeLongTranscriptCondensesFirst(t *testing.T) {
	llm := &fakeCompleter{}
	text := strings.Repeat("This sentence is long enough. ", 40)
	if _, err := New(llm, nil, WithMaxChunkTokens(50)).Summarize(context.Background(), "t", text); err != nil {
		t.Fatal(err)
	}
	if len(llm.calls) < 3 {
		t.Fatalf("calls = %d, want partials plus final", len(llm.calls))
	}
	if llm.calls[0][0].Content != partialPrompt {
		t.Fatalf("first call = %+v", llm.calls[0])
	}
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	llm := &fakeCompleter{}
	got, err := New(llm, nil).Summarize(context.Background(), "t", "  ")
	if err != nil || got != "" || len(llm.calls) != 0 {
		t.Fatalf("got %q err %v calls %d", got, err, len(llm.calls))
	}
}

func TestSummarizeError(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("quota exceeded")}
	_, err := New(llm, nil).Summarize(context.Background(), "t", "text")
	var se *pipeline.StageError
	if !errors.As(err, &se) || se.Stage != pipeline.StageSummarize {
		t.Fatalf("err = %v", err)
	}
}

func TestCategorize(t *testing.T) {
	llm := &fakeCompleter{answers: []string{"  science & technology. "}}
	got, err := New(llm, nil).Categorize(context.Background(), "GPUs explained", "about chips")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Science & Technology" {
		t.Fatalf("got %q", got)
	}
}

func TestMatchCategory(t *testing.T) {
	cases := map[string]string{
		"Business":               "Business",
		"The category is Health": "Health",
		"Cooking":                CategoryOther,
		"":                       CategoryOther,
		`"News & Politics"`:      "News & Politics",
		"**Entertainment**":      "Entertainment",
	}
	for in, want := range cases {
		if got := MatchCategory(in); got != want {
			t.Errorf("MatchCategory(%q) = %q, want %q", in, got, want)
		}
	}
}
