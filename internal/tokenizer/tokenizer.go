package tokenizer

import "fmt"

// Tokenizer converts text into token IDs.
type Tokenizer interface {
	Encode(text string) ([]int, error)
}

// TokenCounter returns the token count for a text.
type TokenCounter interface {
	CountTokens(text string) (int, error)
}

// TokenCounterFunc adapts a function into a TokenCounter.
type TokenCounterFunc func(text string) (int, error)

func (fn TokenCounterFunc) CountTokens(text string) (int, error) {
	return fn(text)
}

// TokenizerCounter adapts a Tokenizer into a TokenCounter.
type TokenizerCounter struct {
	Tokenizer Tokenizer
}

func (t TokenizerCounter) CountTokens(text string) (int, error) {
	if t.Tokenizer == nil {
		return 0, fmt.Errorf("tokenizer is nil")
	}
	ids, err := t.Tokenizer.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
