package tokenizer

import (
	"fmt"
	"strings"
)

// Chunk is a run of whole lines that fits a token budget.
type Chunk struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
}

// Chunker splits text on line boundaries into chunks of at most MaxTokens,
// repeating up to OverlapTokens worth of trailing lines at the start of the
// next chunk. A single line longer than MaxTokens becomes its own chunk.
type Chunker struct {
	MaxTokens     int
	OverlapTokens int
	Counter       TokenCounter
}

type countedLine struct {
	text   string
	num    int
	tokens int
}

// ChunkText splits text into chunks. Line budgets are estimated from per-line
// counts; each emitted chunk reports the exact count of its joined text.
func (c Chunker) ChunkText(text string) ([]Chunk, error) {
	if c.Counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	if c.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive")
	}
	overlap := c.OverlapTokens
	if overlap < 0 {
		overlap = 0
	}
	if text == "" {
		return nil, nil
	}

	var chunks []Chunk
	var window []countedLine
	windowTokens := 0

	emit := func(lines []countedLine) error {
		parts := make([]string, len(lines))
		for i, line := range lines {
			parts[i] = line.text
		}
		joined := strings.Join(parts, "\n")
		count, err := c.Counter.CountTokens(joined)
		if err != nil {
			return err
		}
		chunks = append(chunks, Chunk{
			Text:       joined,
			TokenCount: count,
			StartLine:  lines[0].num,
			EndLine:    lines[len(lines)-1].num,
		})
		return nil
	}

	for i, raw := range strings.Split(text, "\n") {
		tokens, err := c.Counter.CountTokens(raw)
		if err != nil {
			return nil, err
		}
		line := countedLine{text: raw, num: i + 1, tokens: tokens}

		if windowTokens+line.tokens > c.MaxTokens && len(window) > 0 {
			if err := emit(window); err != nil {
				return nil, err
			}
			keep, kept := len(window), 0
			for keep > 0 && kept+window[keep-1].tokens <= overlap && kept+window[keep-1].tokens+line.tokens <= c.MaxTokens {
				keep--
				kept += window[keep].tokens
			}
			window = append([]countedLine(nil), window[keep:]...)
			windowTokens = kept
		}
		if line.tokens > c.MaxTokens && len(window) == 0 {
			if err := emit([]countedLine{line}); err != nil {
				return nil, err
			}
			continue
		}
		window = append(window, line)
		windowTokens += line.tokens
	}
	if len(window) > 0 {
		if err := emit(window); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}
