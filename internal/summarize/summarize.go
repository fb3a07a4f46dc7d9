// Package summarize turns transcripts into essay-style summaries and
// assigns each video a category.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/opebus/yt-university/internal/logger"
	"github.com/opebus/yt-university/internal/openai"
	"github.com/opebus/yt-university/pkg/pipeline"
)

const (
	// DefaultMaxChunkTokens is the transcript size summarized in one call
	DefaultMaxChunkTokens = 6000

	chunkDelimiter = "."
	partialPrompt  = "Rewrite this text in summarized form"
)

// CategoryOther is used when the model answers outside the known list
const CategoryOther = "Other"

// Categories is the closed set of labels a video can receive
var Categories = []string{
	"Science & Technology",
	"Business",
	"Education",
	"Health",
	"Entertainment",
	"News & Politics",
	"Lifestyle",
	CategoryOther,
}

// Completer runs chat completions
type Completer interface {
	Complete(ctx context.Context, messages []openai.Message, temperature float64) (string, error)
}

// Summarizer produces summaries and categories with a chat model
type Summarizer struct {
	llm            Completer
	maxChunkTokens int
	log            *logger.Logger
}

// Option configures a Summarizer
type Option func(*Summarizer)

// WithMaxChunkTokens sets the largest transcript piece sent in one call
func WithMaxChunkTokens(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxChunkTokens = n
		}
	}
}

// New creates a Summarizer
func New(llm Completer, log *logger.Logger, opts ...Option) *Summarizer {
	if log == nil {
		log = logger.Discard()
	}
	s := &Summarizer{llm: llm, maxChunkTokens: DefaultMaxChunkTokens, log: log.Component("summarize")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize writes an essay over the main themes of a transcript. Long
// transcripts are first condensed chunk by chunk. An empty transcript has
// an empty summary.
func (s *Summarizer) Summarize(ctx context.Context, title, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if EstimateTokens(text) > s.maxChunkTokens {
		chunks := ChunkOnDelimiter(text, s.maxChunkTokens, chunkDelimiter)
		s.log.WithField("chunks", len(chunks)).Info("condensing long transcript")

		partials := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			out, err := s.llm.Complete(ctx, []openai.Message{
				{Role: "system", Content: partialPrompt},
				{Role: "user", Content: chunk},
			}, 0)
			if err != nil {
				return "", pipeline.NewStageError(pipeline.StageSummarize, fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err))
			}
			partials = append(partials, out)
		}
		text = strings.Join(partials, "\n\n")
	}

	out, err := s.llm.Complete(ctx, []openai.Message{{Role: "user", Content: essayPrompt(title, text)}}, 0.7)
	if err != nil {
		return "", pipeline.NewStageError(pipeline.StageSummarize, err)
	}
	return out, nil
}

// Categorize picks one of Categories for a video
func (s *Summarizer) Categorize(ctx context.Context, title, summary string) (string, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(summary) == "" {
		return CategoryOther, nil
	}

	out, err := s.llm.Complete(ctx, []openai.Message{
		{Role: "system", Content: categoryPrompt()},
		{Role: "user", Content: fmt.Sprintf("Title: %s\n\nSummary:\n%s", title, summary)},
	}, 0)
	if err != nil {
		return "", pipeline.NewStageError(pipeline.StageCategorize, err)
	}

	category := MatchCategory(out)
	s.log.WithField("answer", out).WithField("category", category).Debug("categorized video")
	return category, nil
}

// MatchCategory maps a free-form model answer onto Categories
func MatchCategory(answer string) string {
	answer = strings.Trim(strings.TrimSpace(answer), `."'*`)
	for _, c := range Categories {
		if strings.EqualFold(answer, c) {
			return c
		}
	}
	lower := strings.ToLower(answer)
	for _, c := range Categories {
		if c != CategoryOther && strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return CategoryOther
}

func categoryPrompt() string {
	return "Classify the video into exactly one of these categories: " +
		strings.Join(Categories, ", ") +
		". Answer with the category name only."
}

func essayPrompt(title, text string) string {
	return fmt.Sprintf(`Your task is to provide an in-depth analysis of the provided transcript, structured to both inform and engage readers.
Your narrative should unfold with clarity and insight, reflecting the style of a Paul Graham essay.

Your summary should unfold as a detailed and engaging narrative essay, deeply exploring the content.
This section is the core of your analysis and should be both informative and thought-provoking.

When crafting your summary, delve deeply into the main themes of the transcript with title %s
Provide a comprehensive analysis of each theme, backed by examples from the video and relevant research in the field.

Use markdown to format your text effectively. Return only the main themes without any introduction or conclusion.

Text: %s`, title, text)
}
