package segmenter

import (
	"strings"
	"unicode"
)

// Speaking-rate estimates used for chapter planning. CJK narration averages
// around 220 characters per minute, Latin-script narration around 200 words.
const (
	cjkCharsPerMinute   = 220.0
	latinWordsPerMinute = 200.0
)

// TokenStats counts the speakable units in text: CJK runes plus
// whitespace-delimited non-CJK words.
type TokenStats struct {
	CJKChars   int
	LatinWords int
}

// Words returns the combined word count used for manifest totals.
func (s TokenStats) Words() int {
	return s.CJKChars + s.LatinWords
}

// EstimatedMinutes converts token counts into estimated narration time.
func (s TokenStats) EstimatedMinutes() float64 {
	return float64(s.CJKChars)/cjkCharsPerMinute + float64(s.LatinWords)/latinWordsPerMinute
}

// CountTokens tallies CJK characters and Latin words in text.
func CountTokens(text string) TokenStats {
	var stats TokenStats
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			stats.CJKChars++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				stats.LatinWords++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return stats
}

// PlanChapters slices text into chapters of roughly maxMinutes estimated
// narration each. Paragraphs are the grouping unit; a single paragraph
// longer than the budget becomes its own chapter rather than being split.
func PlanChapters(text string, maxMinutes float64) []string {
	if maxMinutes <= 0 {
		maxMinutes = 8.0
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chapters []string
	var current []string
	var currentMinutes float64

	flush := func() {
		if len(current) == 0 {
			return
		}
		chapters = append(chapters, strings.Join(current, "\n"))
		current = current[:0]
		currentMinutes = 0
	}

	for _, p := range paragraphs {
		minutes := CountTokens(p).EstimatedMinutes()
		if currentMinutes > 0 && currentMinutes+minutes > maxMinutes {
			flush()
		}
		current = append(current, p)
		currentMinutes += minutes
		if currentMinutes >= maxMinutes {
			flush()
		}
	}
	flush()

	return chapters
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
