// Package segmenter splits raw book text into speakable chunks and plans
// chapter boundaries. Output is deterministic for identical input.
package segmenter

import (
	"fmt"
	"strings"
	"unicode"
)

// Chunk is an ordered unit of source text sent to TTS in one call.
// Start and End are rune offsets into the normalized chapter text.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// InvalidInputError reports source text that cannot be processed
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

var commonAbbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "mt": {}, "vs": {}, "etc": {}, "no": {}, "vol": {}, "rev": {},
	"fig": {}, "al": {}, "inc": {}, "ltd": {}, "co": {}, "dept": {}, "est": {},
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {}, "aug": {},
	"sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
	"a.m": {}, "p.m": {}, "e.g": {}, "i.e": {}, "u.s": {}, "u.k": {},
}

// Validate checks that source text is non-empty and within the configured
// total length bound, which caps the cost of a single job.
func Validate(text string, maxTotalChars int) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &InvalidInputError{Reason: "text is empty"}
	}
	if maxTotalChars > 0 && len([]rune(text)) > maxTotalChars {
		return &InvalidInputError{Reason: fmt.Sprintf("text exceeds maximum length of %d characters", maxTotalChars)}
	}
	return nil
}

// Split divides text into ordered chunks bounded by maxChunkChars runes.
// Sentences are the preferred boundary; oversized sentences fall back to
// clause punctuation, then to a hard rune-boundary cut. Empty chunks are
// never emitted and multibyte runes are never cut.
func Split(text string, maxChunkChars int) ([]Chunk, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, &InvalidInputError{Reason: "text is empty"}
	}
	if maxChunkChars <= 0 {
		return nil, fmt.Errorf("maxChunkChars must be positive, got %d", maxChunkChars)
	}

	runes := []rune(normalized)
	var chunks []Chunk
	start := 0

	emit := func(s, e int) {
		s, e = trimSpan(runes, s, e)
		if s >= e {
			return
		}
		for _, span := range splitLongSpan(runes, s, e, maxChunkChars) {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  string(runes[span[0]:span[1]]),
				Start: span[0],
				End:   span[1],
			})
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if !isSentenceEnd(r) {
			continue
		}
		if r == '.' && skipPeriodSplit(runes, i) {
			continue
		}
		if !isBoundary(runes, i) {
			continue
		}
		emit(start, i+1)
		start = i + 1
	}
	emit(start, len(runes))

	if len(chunks) == 0 {
		return nil, &InvalidInputError{Reason: "text contains no speakable content"}
	}
	return chunks, nil
}

// Normalize collapses runs of whitespace so sentence scanning has stable
// boundaries. Chapter text is persisted in this normalized form, which keeps
// chunk offsets valid against the stored text.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Join(strings.Fields(text), " ")
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	default:
		return false
	}
}

// skipPeriodSplit guards against ellipses, decimals, initials, and known
// abbreviations masquerading as sentence ends.
func skipPeriodSplit(runes []rune, idx int) bool {
	if (idx > 0 && runes[idx-1] == '.') || (idx+1 < len(runes) && runes[idx+1] == '.') {
		return true
	}
	if idx > 0 && idx+1 < len(runes) && unicode.IsDigit(runes[idx-1]) && unicode.IsDigit(runes[idx+1]) {
		return true
	}

	token := tokenBefore(runes, idx)
	if token == "" {
		return false
	}
	if len([]rune(token)) == 1 && unicode.IsLetter([]rune(token)[0]) {
		return true
	}
	_, ok := commonAbbreviations[strings.ToLower(token)]
	return ok
}

func tokenBefore(runes []rune, idx int) string {
	i := idx - 1
	for i >= 0 && !isTokenBoundary(runes[i]) {
		i--
	}
	return string(runes[i+1 : idx])
}

func isTokenBoundary(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`"'()[]{}`, r)
}

// isBoundary decides whether the punctuation at punctIdx ends a sentence,
// skipping closing quotes and requiring a plausible sentence start after.
func isBoundary(runes []rune, punctIdx int) bool {
	// CJK sentence enders are unambiguous
	r := runes[punctIdx]
	if r == '。' || r == '！' || r == '？' {
		return true
	}

	i := punctIdx + 1
	for i < len(runes) && isClosing(runes[i]) {
		i++
	}
	if i >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[i]) {
		return false
	}
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	if i >= len(runes) {
		return true
	}
	return isLikelySentenceStart(runes, i)
}

func isLikelySentenceStart(runes []rune, idx int) bool {
	r := runes[idx]
	if unicode.IsUpper(r) || unicode.IsDigit(r) || isCJK(r) {
		return true
	}
	if isOpening(r) {
		j := idx + 1
		for j < len(runes) && isOpening(runes[j]) {
			j++
		}
		if j < len(runes) {
			rr := runes[j]
			return unicode.IsUpper(rr) || unicode.IsDigit(rr) || isCJK(rr)
		}
	}
	return false
}

func isClosing(r rune) bool {
	return strings.ContainsRune(`"')]}”’」』`, r)
}

func isOpening(r rune) bool {
	return strings.ContainsRune(`"'([{“‘「『`, r)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// splitLongSpan breaks an oversized sentence span into clause-bounded
// sub-spans, falling back to hard cuts at maxChars runes.
func splitLongSpan(runes []rune, start, end, maxChars int) [][2]int {
	if end-start <= maxChars {
		return [][2]int{{start, end}}
	}

	var out [][2]int
	s := start
	for s < end {
		remaining := end - s
		if remaining <= maxChars {
			if ts, te := trimSpan(runes, s, end); ts < te {
				out = append(out, [2]int{ts, te})
			}
			break
		}

		// The cut never moves past s+maxChars; a clause boundary only
		// pulls it earlier, so no sub-span exceeds the cap.
		cut := s + maxChars
		if b := findClauseBoundary(runes, s+maxChars/2, cut); b > s {
			cut = b + 1
		}
		if cut > end {
			cut = end
		}

		if ts, te := trimSpan(runes, s, cut); ts < te {
			out = append(out, [2]int{ts, te})
		}
		s = cut
	}
	return out
}

func findClauseBoundary(runes []rune, from, to int) int {
	if to > len(runes) {
		to = len(runes)
	}
	for i := to - 1; i >= from && i >= 0; i-- {
		if isClauseBoundary(runes[i]) {
			return i
		}
	}
	return -1
}

func isClauseBoundary(r rune) bool {
	switch r {
	case ',', ';', ':', '—', '-', '，', '；', '：', '、':
		return true
	default:
		return false
	}
}

func trimSpan(runes []rune, s, e int) (int, int) {
	for s < e && unicode.IsSpace(runes[s]) {
		s++
	}
	for e > s && unicode.IsSpace(runes[e-1]) {
		e--
	}
	return s, e
}
