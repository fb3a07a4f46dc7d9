package summarize

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	overflowMarker = "..."

	// tokenizerModel picks the BPE encoding used for chunk budgets
	tokenizerModel = "gpt-4-turbo"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenizer returns the shared encoding, or nil when it cannot be loaded
// (the BPE ranks are fetched on first use).
func tokenizer() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(tokenizerModel)
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// EstimateTokens counts the model tokens of s. Without an encoding it
// falls back to four characters per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	if enc := tokenizer(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return heuristicTokens(s)
}

func heuristicTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// ChunkOnDelimiter splits text on delimiter and greedily packs the pieces
// into chunks of at most maxTokens. A single piece larger than maxTokens is
// dropped and replaced by an ellipsis marker.
func ChunkOnDelimiter(text string, maxTokens int, delimiter string) []string {
	if maxTokens <= 0 || text == "" {
		return nil
	}

	var (
		out       []string
		candidate []string
	)
	join := func(parts ...string) string { return strings.Join(parts, delimiter) }

	for _, piece := range strings.Split(text, delimiter) {
		if EstimateTokens(piece) > maxTokens {
			if EstimateTokens(join(append(candidate, overflowMarker)...)) <= maxTokens {
				candidate = append(candidate, overflowMarker)
			}
			continue
		}
		if len(candidate) > 0 && EstimateTokens(join(append(candidate, piece)...)) > maxTokens {
			out = append(out, join(candidate...))
			candidate = []string{piece}
			continue
		}
		candidate = append(candidate, piece)
	}
	if len(candidate) > 0 {
		out = append(out, join(candidate...))
	}
	return out
}
