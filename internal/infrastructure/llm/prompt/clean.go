package prompt

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	quotesRe        = regexp.MustCompile("[\"'`“”‘’]+")
	squareRe        = regexp.MustCompile(`\[+[^\]]*\]+`)
	curlyRe         = regexp.MustCompile(`\{+[^}]*\}+`)
	parenRe         = regexp.MustCompile(`\(+[^)]*\)+`)
	starsRe         = regexp.MustCompile(`\*+`)
	commaRe         = regexp.MustCompile(`\s*,\s*`)
	periodRe        = regexp.MustCompile(`\s*\.\s*`)
	semicolonRe     = regexp.MustCompile(`\s*;\s*`)
	colonRe         = regexp.MustCompile(`\s*:\s*`)
	spaceRe         = regexp.MustCompile(`\s+`)
	pageRe          = regexp.MustCompile(`(?i)(?:page \d+|pg\. \d+)`)
	figureRe        = regexp.MustCompile(`(?i)(?:figure \d+|table \d+|chart \d+|fig\. \d+)`)
	seeRe           = regexp.MustCompile(`(?i)(?:see page|see fig|see table)`)
	multiPeriodRe   = regexp.MustCompile(`\.{2,}`)
	multiCommaRe    = regexp.MustCompile(`,{2,}`)
	multiDashRe     = regexp.MustCompile(`-{2,}`)
	leadingPunctRe  = regexp.MustCompile(`^[,.\-;:\s]+`)
	trailingPunctRe = regexp.MustCompile(`[,.\-;:\s]+$`)
)

// CleanText strips markup and document artifacts from an excerpt and normalises punctuation.
func CleanText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = quotesRe.ReplaceAllString(text, "")
	text = squareRe.ReplaceAllString(text, "")
	text = curlyRe.ReplaceAllString(text, "")
	text = parenRe.ReplaceAllString(text, " ")
	text = starsRe.ReplaceAllString(text, " ")

	text = commaRe.ReplaceAllString(text, ", ")
	text = periodRe.ReplaceAllString(text, ". ")
	text = semicolonRe.ReplaceAllString(text, "; ")
	text = colonRe.ReplaceAllString(text, ": ")
	text = spaceRe.ReplaceAllString(text, " ")

	text = pageRe.ReplaceAllString(text, "")
	text = figureRe.ReplaceAllString(text, "")
	text = seeRe.ReplaceAllString(text, "")

	text = multiPeriodRe.ReplaceAllString(text, ".")
	text = multiCommaRe.ReplaceAllString(text, ",")
	text = multiDashRe.ReplaceAllString(text, "-")
	text = leadingPunctRe.ReplaceAllString(text, "")
	text = trailingPunctRe.ReplaceAllString(text, "")

	sentences := strings.Split(text, ". ")
	kept := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) <= 2 {
			continue
		}
		kept = append(kept, capitalize(sentence))
	}

	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.Join(kept, ". "), " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
