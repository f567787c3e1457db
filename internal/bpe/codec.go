package bpe

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Encode converts text to token ids, always applying the earliest learned
// merge present in the sequence.
func (m *Model) Encode(text string) []int {
	return m.EncodeBytes([]byte(text))
}

// EncodeBytes is Encode for raw bytes.
func (m *Model) EncodeBytes(raw []byte) []int {
	ids := make([]int, len(raw))
	for i, b := range raw {
		ids[i] = int(b)
	}
	for len(ids) >= 2 {
		best, bestID, found := Pair{}, 0, false
		for _, pair := range GetStats(ids).Pairs() {
			id, ok := m.ranks[pair]
			if ok && (!found || id < bestID) {
				best, bestID, found = pair, id, true
			}
		}
		if !found {
			break
		}
		ids = Merge(ids, best, bestID)
	}
	return ids
}

// DecodeBytes concatenates the expansions of ids.
func (m *Model) DecodeBytes(ids []int) ([]byte, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || id >= len(m.vocab) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownSymbol, id)
		}
		buf = append(buf, m.vocab[id]...)
	}
	return buf, nil
}

// Decode converts ids back to text. Ill-formed UTF-8 is replaced with
// U+FFFD rather than rejected.
func (m *Model) Decode(ids []int) (string, error) {
	raw, err := m.DecodeBytes(ids)
	if err != nil {
		return "", err
	}
	text, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(text), nil
}
