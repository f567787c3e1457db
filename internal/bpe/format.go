package bpe

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const formatHeader = "bytebpe v1"

// WriteMerges writes the merge table in learning order.
//
// Format:
//
//	bytebpe v1
//	<merge count>
//	<left> <right>
//	...
//
// Line i (0-based) after the count produces id NumBytes+i.
func WriteMerges(w io.Writer, m *Model) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, formatHeader)
	fmt.Fprintln(bw, len(m.merges))
	for _, pair := range m.merges {
		fmt.Fprintf(bw, "%d %d\n", pair.Left, pair.Right)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write merges: %w", err)
	}
	return nil
}

// ReadMerges parses a merges file written by WriteMerges.
func ReadMerges(r io.Reader) (*Model, error) {
	scanner := bufio.NewScanner(r)
	line := 0
	next := func() (string, bool) {
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text != "" {
				return text, true
			}
		}
		return "", false
	}

	header, ok := next()
	if !ok || header != formatHeader {
		return nil, fmt.Errorf("%w: missing %q header", ErrInvalidArgument, formatHeader)
	}
	countLine, ok := next()
	if !ok {
		return nil, fmt.Errorf("%w: missing merge count", ErrInvalidArgument)
	}
	count, err := strconv.Atoi(countLine)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: line %d: bad merge count %q", ErrInvalidArgument, line, countLine)
	}

	merges := make([]Pair, 0, count)
	for len(merges) < count {
		text, ok := next()
		if !ok {
			break
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected two ids, got %q", ErrInvalidArgument, line, text)
		}
		left, errL := strconv.Atoi(fields[0])
		right, errR := strconv.Atoi(fields[1])
		if errL != nil || errR != nil {
			return nil, fmt.Errorf("%w: line %d: bad ids %q", ErrInvalidArgument, line, text)
		}
		merges = append(merges, Pair{Left: left, Right: right})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read merges: %w", err)
	}
	if len(merges) != count {
		return nil, fmt.Errorf("%w: expected %d merges, found %d", ErrInvalidArgument, count, len(merges))
	}
	if extra, ok := next(); ok {
		return nil, fmt.Errorf("%w: line %d: unexpected trailing data %q", ErrInvalidArgument, line, extra)
	}
	return NewModel(merges)
}

// WriteVocab writes a readable listing of ids first..first+limit-1.
// Base bytes print as "[x] 120"; merges as "[a][b] -> [ab] 258".
// A limit of zero or less lists everything.
func WriteVocab(w io.Writer, m *Model, first, limit int) error {
	if first < 0 {
		first = 0
	}
	last := len(m.vocab)
	if limit > 0 && first+limit < last {
		last = first + limit
	}
	bw := bufio.NewWriter(w)
	for id := first; id < last; id++ {
		token := RenderToken(m.vocab[id])
		if id < NumBytes {
			fmt.Fprintf(bw, "[%s] %d\n", token, id)
			continue
		}
		pair := m.merges[id-NumBytes]
		fmt.Fprintf(bw, "[%s][%s] -> [%s] %d\n",
			RenderToken(m.vocab[pair.Left]), RenderToken(m.vocab[pair.Right]), token, id)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write vocab: %w", err)
	}
	return nil
}

// RenderToken makes token bytes printable. Valid printable runes are kept,
// control characters and invalid bytes are escaped.
func RenderToken(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == utf8.RuneError && size <= 1:
			fmt.Fprintf(&sb, `\x%02x`, b[0])
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\u%04x`, r)
		default:
			sb.WriteRune(r)
		}
		b = b[size:]
	}
	return sb.String()
}
