package llm

import "strings"

// SummaryMaxTokens implements spec §4.5's adaptive summarization budget:
// the caller chooses max_tokens from the email's word count.
func SummaryMaxTokens(wordCount int) int {
	switch {
	case wordCount <= 50:
		return 50
	case wordCount <= 150:
		return 80
	case wordCount <= 400:
		return 120
	case wordCount <= 800:
		return 180
	default:
		return 250
	}
}

// WordCount counts whitespace-separated words, the same measure the budget
// table above is keyed on.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
