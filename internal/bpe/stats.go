package bpe

// Pair is an ordered pair of adjacent symbol ids.
type Pair struct {
	Left  int
	Right int
}

// Stats holds adjacent pair counts for one sequence.
type Stats struct {
	counts map[Pair]int
	order  []Pair
}

// GetStats counts every adjacent pair in ids.
func GetStats(ids []int) Stats {
	stats := Stats{counts: make(map[Pair]int)}
	for i := 0; i+1 < len(ids); i++ {
		pair := Pair{Left: ids[i], Right: ids[i+1]}
		if _, seen := stats.counts[pair]; !seen {
			stats.order = append(stats.order, pair)
		}
		stats.counts[pair]++
	}
	return stats
}

// Count returns how often pair occurs.
func (s Stats) Count(pair Pair) int {
	return s.counts[pair]
}

// Len returns the number of distinct pairs.
func (s Stats) Len() int {
	return len(s.order)
}

// Pairs returns the distinct pairs in order of first occurrence.
func (s Stats) Pairs() []Pair {
	out := make([]Pair, len(s.order))
	copy(out, s.order)
	return out
}

// Max returns the most frequent pair. Ties go to the pair that occurred
// first in the scanned sequence.
func (s Stats) Max() (Pair, int, bool) {
	var best Pair
	bestCount := 0
	for _, pair := range s.order {
		if count := s.counts[pair]; count > bestCount {
			best = pair
			bestCount = count
		}
	}
	return best, bestCount, bestCount > 0
}
