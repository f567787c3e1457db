package bpe

// Merge returns a copy of ids with every non-overlapping occurrence of pair,
// scanned left to right, replaced by id.
func Merge(ids []int, pair Pair, id int) []int {
	out := make([]int, 0, len(ids))
	for i := 0; i < len(ids); {
		if i+1 < len(ids) && ids[i] == pair.Left && ids[i+1] == pair.Right {
			out = append(out, id)
			i += 2
			continue
		}
		out = append(out, ids[i])
		i++
	}
	return out
}
