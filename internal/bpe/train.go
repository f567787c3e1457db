package bpe

import (
	"context"
	"fmt"
	"log"
)

// MergeRecord describes one learned merge.
type MergeRecord struct {
	Index     int
	Total     int
	Pair      Pair
	ID        int
	Count     int
	Expansion []byte
}

// Trainer learns a merge table from a corpus.
type Trainer struct {
	VocabSize int
	Verbose   bool
	OnMerge   func(MergeRecord)
}

// Train learns vocabSize-NumBytes merges from corpus.
func Train(corpus string, vocabSize int, verbose bool) (*Model, error) {
	return Trainer{VocabSize: vocabSize, Verbose: verbose}.Train(context.Background(), corpus)
}

// Train runs the merge loop. It stops early, without error, once fewer than
// two symbols remain.
func (t Trainer) Train(ctx context.Context, corpus string) (*Model, error) {
	if t.VocabSize < NumBytes {
		return nil, fmt.Errorf("%w: vocab size %d is below %d", ErrInvalidArgument, t.VocabSize, NumBytes)
	}
	numMerges := t.VocabSize - NumBytes

	raw := []byte(corpus)
	ids := make([]int, len(raw))
	for i, b := range raw {
		ids[i] = int(b)
	}

	model := newBaseModel()
	for i := 0; i < numMerges; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(ids) < 2 {
			if t.Verbose {
				log.Printf("stopped after %d/%d merges: corpus exhausted", i, numMerges)
			}
			break
		}

		pair, count, _ := GetStats(ids).Max()
		id := NumBytes + i
		ids = Merge(ids, pair, id)
		if err := model.add(pair); err != nil {
			return nil, err
		}

		record := MergeRecord{
			Index:     i,
			Total:     numMerges,
			Pair:      pair,
			ID:        id,
			Count:     count,
			Expansion: model.vocab[id],
		}
		if t.Verbose {
			log.Printf("merge %d/%d: (%d, %d) -> %d (%s) had %d occurrences",
				i+1, numMerges, pair.Left, pair.Right, id, RenderToken(record.Expansion), count)
		}
		if t.OnMerge != nil {
			t.OnMerge(record)
		}
	}
	return model, nil
}
