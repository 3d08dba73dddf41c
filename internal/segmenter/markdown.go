package segmenter

import (
	"regexp"
	"strings"
)

var (
	mdCodeBlockRe = regexp.MustCompile("(?s)```.*?```")
	mdInlineRe    = regexp.MustCompile("`([^`]*)`")
	mdImageRe     = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkRe      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeadingRe   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdEmphasisRe  = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:.*?\S)?)(\*{1,3}|_{1,3})`)
	mdListRe      = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	mdQuoteRe     = regexp.MustCompile(`(?m)^\s*>\s?`)
	mdRuleRe      = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	mdHTMLTagRe   = regexp.MustCompile(`<[^>]+>`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkdown strips markdown syntax so only narratable prose reaches the
// synthesis stage. Code blocks and images are dropped entirely, links and
// emphasis keep their visible text.
func CleanMarkdown(text string) string {
	text = mdCodeBlockRe.ReplaceAllString(text, "")
	text = mdImageRe.ReplaceAllString(text, "")
	text = mdInlineRe.ReplaceAllString(text, "$1")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdHeadingRe.ReplaceAllString(text, "")
	text = mdEmphasisRe.ReplaceAllString(text, "$2")
	text = mdListRe.ReplaceAllString(text, "")
	text = mdQuoteRe.ReplaceAllString(text, "")
	text = mdRuleRe.ReplaceAllString(text, "")
	text = mdHTMLTagRe.ReplaceAllString(text, "")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
