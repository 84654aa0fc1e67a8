package chunker

import "strings"

// Separator preference order for recursive splitting: sentence ends
// first, then clause breaks, then words, then a hard character split.
var recursiveSeparators = []string{". ", "! ", "? ", "; ", ", ", " ", ""}

type recursiveSplitter struct {
	chunkSize  int
	separators []string
}

func newRecursiveSplitter(chunkSize int) *recursiveSplitter {
	return &recursiveSplitter{
		chunkSize:  chunkSize,
		separators: recursiveSeparators,
	}
}

// Split partitions text into fragments of at most chunkSize bytes,
// preferring the earliest separator in the preference order that
// occurs in the text. Separators stay attached to the end of the
// fragment they close. Concatenating the returned fragments
// reproduces text exactly.
func (s *recursiveSplitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *recursiveSplitter) split(text string, separators []string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	sep := ""
	sepIdx := len(separators) - 1
	for i, cand := range separators {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			sepIdx = i
			break
		}
	}

	if sep == "" {
		return s.hardSplit(text)
	}

	pieces := splitKeepEnd(text, sep)
	rest := separators[sepIdx+1:]

	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, piece := range pieces {
		if len(piece) > s.chunkSize {
			flush()
			out = append(out, s.split(piece, rest)...)
			continue
		}
		if buf.Len()+len(piece) > s.chunkSize {
			flush()
		}
		buf.WriteString(piece)
	}
	flush()

	return out
}

// hardSplit cuts on the byte budget without crossing rune boundaries.
func (s *recursiveSplitter) hardSplit(text string) []string {
	var out []string
	var buf strings.Builder

	for _, r := range text {
		runeLen := len(string(r))
		if buf.Len() > 0 && buf.Len()+runeLen > s.chunkSize {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}

// splitKeepEnd splits on sep keeping the separator at the end of each
// preceding piece, dropping empty trailing pieces.
func splitKeepEnd(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
