package chunker

import (
	"strings"
	"testing"
)

func repeatSentence(words int, n int) string {
	word := "token "
	sentence := strings.TrimSpace(strings.Repeat(word, words)) + "."
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(sentence)
		sb.WriteString(" ")
	}
	return sb.String()
}

func TestChunk_EmptyInput(t *testing.T) {
	c := New(DefaultConfig())
	if got := c.Chunk(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

// TestChunk_E1Scenario mirrors the seed scenario: ~10,000 tokens of text
// with max_tokens=3000, overlap_tokens=50 should yield exactly 4 chunks,
// none exceeding 3000 tokens.
func TestChunk_E1Scenario(t *testing.T) {
	// Each sentence is 11 tokens (8 words * 1.3, rounded up per sentence).
	// Use short sentences so packing is exercised many times.
	text := repeatSentence(8, 1000) // 1000 sentences, 11 tokens each => ~11000 tokens total
	c := New(Config{MaxTokens: 3000, OverlapTokens: 50})
	chunks := c.Chunk(text)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if len(chunks) != 4 {
		t.Errorf("expected exactly 4 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.NumTokens > 3000 {
			t.Errorf("chunk %d exceeds max tokens: %d", i, ch.NumTokens)
		}
	}
}

func TestChunk_EveryInputSentenceAppears(t *testing.T) {
	text := "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu."
	c := New(Config{MaxTokens: 5, OverlapTokens: 2})
	chunks := c.Chunk(text)

	for _, want := range []string{"Alpha beta gamma delta.", "Epsilon zeta eta theta.", "Iota kappa lambda mu."} {
		found := false
		for _, ch := range chunks {
			if strings.Contains(ch.Text, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("sentence %q not found in any chunk", want)
		}
	}
}

func TestChunk_OversizedSentenceBecomesOwnChunk(t *testing.T) {
	huge := repeatSentence(500, 1) // single sentence, far above max tokens
	text := "Short lead in. " + huge + " Short trailer."
	c := New(Config{MaxTokens: 50, OverlapTokens: 10})
	chunks := c.Chunk(text)

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "token token") && ch.NumTokens > 50 {
			found = true
		}
	}
	if !found {
		t.Error("expected the oversized sentence to form its own chunk")
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := repeatSentence(12, 50)
	c := New(Config{MaxTokens: 100, OverlapTokens: 20})
	a := c.Chunk(text)
	b := c.Chunk(text)

	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text {
			t.Fatalf("non-deterministic chunk %d content", i)
		}
	}
}

func TestChunk_PositionsSequential(t *testing.T) {
	text := repeatSentence(10, 30)
	c := New(Config{MaxTokens: 40, OverlapTokens: 10})
	chunks := c.Chunk(text)
	for i, ch := range chunks {
		if ch.Position != i {
			t.Errorf("chunk %d has position %d, want %d", i, ch.Position, i)
		}
	}
}
