package pipeline

import "strings"

var urgencyKeywords = []string{"urgent", "asap", "critical", "emergency"}
var actionKeywords = []string{"please review", "need your", "action required"}

// PriorityScore implements spec §4.7's priority rules: start at 0.5, add
// 0.3 for an urgency keyword, 0.2 for an action keyword, 0.2 if starred,
// clamped to [0,1].
func PriorityScore(subject, body string, isStarred bool) float64 {
	haystack := strings.ToLower(subject + " " + body)

	score := 0.5
	if containsAny(haystack, urgencyKeywords) {
		score += 0.3
	}
	if containsAny(haystack, actionKeywords) {
		score += 0.2
	}
	if isStarred {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

var meetingKeywords = []string{"meeting", "call", "calendar"}
var financialKeywords = []string{"invoice", "payment", "$"}

const (
	CategoryMeetings      = "meetings"
	CategoryFinancial     = "financial"
	CategoryNewsletters   = "newsletters"
	CategoryNotifications = "notifications"
	CategoryConversation  = "conversation"
	CategoryGeneral       = "general"
)

// Category implements spec §4.7's first-match-wins category rules.
func Category(subject, body, fromAddress, inReplyTo string, hasUnsubscribeLink bool) string {
	haystack := strings.ToLower(subject + " " + body)
	from := strings.ToLower(fromAddress)

	switch {
	case containsAny(haystack, meetingKeywords):
		return CategoryMeetings
	case containsAny(haystack, financialKeywords):
		return CategoryFinancial
	case hasUnsubscribeLink:
		return CategoryNewsletters
	case containsAny(from, []string{"noreply", "no-reply", "notifications@"}):
		return CategoryNotifications
	case strings.HasPrefix(strings.TrimSpace(subject), "Re:"),
		strings.HasPrefix(strings.TrimSpace(subject), "Fwd:"),
		inReplyTo != "":
		return CategoryConversation
	default:
		return CategoryGeneral
	}
}

var deadlineKeywords = []string{"deadline", "due", "by"}
var insightMeetingKeywords = []string{"meet", "meeting", "call", "schedule"}
var insightFinancialKeywords = []string{"invoice", "payment", "$", "usd"}

// InsightFlags implements spec §4.7's insight flag keyword sets: boolean OR
// over subject+body for each of deadline, meeting, financial. These
// keyword sets are distinct from Category's (e.g. "schedule"/"usd" flag an
// insight but don't classify the category, "calendar" classifies the
// category but doesn't flag the insight).
func InsightFlags(subject, body string) (hasDeadline, hasMeeting, hasFinancial bool) {
	haystack := strings.ToLower(subject + " " + body)
	return containsAny(haystack, deadlineKeywords),
		containsAny(haystack, insightMeetingKeywords),
		containsAny(haystack, insightFinancialKeywords)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// HasUnsubscribeLink is a crude heuristic (the transport layer does not
// currently surface List-Unsubscribe headers separately), matched against
// the same body text used for the other rules.
func HasUnsubscribeLink(body string) bool {
	return strings.Contains(strings.ToLower(body), "unsubscribe")
}

// KeywordSummary is the deterministic fallback summary used when no LLM is
// activated: the first ~50 stripped words of the body, per spec §4.5's
// fallback path.
func KeywordSummary(body string) string {
	words := strings.Fields(body)
	if len(words) > 50 {
		words = words[:50]
	}
	return strings.Join(words, " ")
}
