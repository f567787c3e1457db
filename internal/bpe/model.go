package bpe

import (
	"errors"
	"fmt"
)

// NumBytes is the size of the base alphabet. Ids below it are raw bytes.
const NumBytes = 256

var (
	// ErrInvalidArgument reports a bad training request or a malformed merge table.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownSymbol reports an id with no vocabulary entry.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Model is a frozen merge table and vocabulary. The i-th merge produces id
// NumBytes+i. A Model is safe for concurrent use once built.
type Model struct {
	merges []Pair
	ranks  map[Pair]int
	vocab  [][]byte
}

func newBaseModel() *Model {
	m := &Model{
		ranks: make(map[Pair]int),
		vocab: make([][]byte, NumBytes, NumBytes*2),
	}
	for i := 0; i < NumBytes; i++ {
		m.vocab[i] = []byte{byte(i)}
	}
	return m
}

// NewModel rebuilds a model from merges listed in learning order.
func NewModel(merges []Pair) (*Model, error) {
	m := newBaseModel()
	for i, pair := range merges {
		if err := m.add(pair); err != nil {
			return nil, fmt.Errorf("merge %d: %w", i, err)
		}
	}
	return m, nil
}

// add appends pair as the next merge, id len(vocab).
func (m *Model) add(pair Pair) error {
	next := len(m.vocab)
	if pair.Left < 0 || pair.Left >= next || pair.Right < 0 || pair.Right >= next {
		return fmt.Errorf("%w: pair (%d, %d) references an id not below %d", ErrInvalidArgument, pair.Left, pair.Right, next)
	}
	if id, exists := m.ranks[pair]; exists {
		return fmt.Errorf("%w: pair (%d, %d) already merged into %d", ErrInvalidArgument, pair.Left, pair.Right, id)
	}
	left, right := m.vocab[pair.Left], m.vocab[pair.Right]
	merged := make([]byte, len(left)+len(right))
	copy(merged, left)
	copy(merged[len(left):], right)

	m.merges = append(m.merges, pair)
	m.ranks[pair] = next
	m.vocab = append(m.vocab, merged)
	return nil
}

// VocabSize returns the number of known ids.
func (m *Model) VocabSize() int {
	return len(m.vocab)
}

// NumMerges returns the number of learned merges.
func (m *Model) NumMerges() int {
	return len(m.merges)
}

// Merges returns the merge table in learning order.
func (m *Model) Merges() []Pair {
	out := make([]Pair, len(m.merges))
	copy(out, m.merges)
	return out
}

// MergeID returns the id a pair merges into.
func (m *Model) MergeID(pair Pair) (int, bool) {
	id, ok := m.ranks[pair]
	return id, ok
}

// TokenBytes returns a copy of the bytes id expands to.
func (m *Model) TokenBytes(id int) ([]byte, error) {
	if id < 0 || id >= len(m.vocab) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSymbol, id)
	}
	out := make([]byte, len(m.vocab[id]))
	copy(out, m.vocab[id])
	return out, nil
}
