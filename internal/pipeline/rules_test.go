package pipeline

import (
	"strings"
	"testing"
)

func TestPriorityScoreBaseline(t *testing.T) {
	if got := PriorityScore("hello", "just checking in", false); got != 0.5 {
		t.Fatalf("expected baseline 0.5, got %v", got)
	}
}

func TestPriorityScoreUrgencyKeyword(t *testing.T) {
	got := PriorityScore("URGENT: respond now", "", false)
	if got != 0.8 {
		t.Fatalf("expected 0.8, got %v", got)
	}
}

func TestPriorityScoreClampsToOne(t *testing.T) {
	got := PriorityScore("urgent action required", "please review asap", true)
	if got != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", got)
	}
}

func TestPriorityScoreStarredAdds(t *testing.T) {
	got := PriorityScore("hi", "nothing special", true)
	if got != 0.7 {
		t.Fatalf("expected 0.7, got %v", got)
	}
}

func TestCategoryFirstMatchWinsMeetingsOverFinancial(t *testing.T) {
	got := Category("Meeting about invoice", "let's schedule a call", "a@x.com", "", false)
	if got != CategoryMeetings {
		t.Fatalf("expected meetings to win first match, got %v", got)
	}
}

func TestCategoryNewsletters(t *testing.T) {
	got := Category("Weekly digest", "", "news@example.com", "", true)
	if got != CategoryNewsletters {
		t.Fatalf("expected newsletters, got %v", got)
	}
}

func TestCategoryNotifications(t *testing.T) {
	got := Category("Your build failed", "", "noreply@ci.example.com", "", false)
	if got != CategoryNotifications {
		t.Fatalf("expected notifications, got %v", got)
	}
}

func TestCategoryConversationByReplyPrefix(t *testing.T) {
	got := Category("Re: project status", "", "a@x.com", "", false)
	if got != CategoryConversation {
		t.Fatalf("expected conversation, got %v", got)
	}
}

func TestCategoryGeneralFallback(t *testing.T) {
	got := Category("Hello", "just saying hi", "a@x.com", "", false)
	if got != CategoryGeneral {
		t.Fatalf("expected general, got %v", got)
	}
}

func TestInsightFlags(t *testing.T) {
	deadline, meeting, financial := InsightFlags("Invoice due by Friday", "please schedule a call")
	if !deadline || !meeting || !financial {
		t.Fatalf("expected all three flags set, got deadline=%v meeting=%v financial=%v", deadline, meeting, financial)
	}
}

func TestInsightFlagsUsesDistinctKeywordsFromCategory(t *testing.T) {
	_, meeting, _ := InsightFlags("Let's schedule a planning session", "")
	if !meeting {
		t.Fatal("expected hasMeeting for 'schedule', which Category does not recognize")
	}

	_, _, financial := InsightFlags("", "total due: 50 usd")
	if !financial {
		t.Fatal("expected hasFinancial for 'usd', which Category does not recognize")
	}

	_, meeting, _ = InsightFlags("Add this to your calendar", "")
	if meeting {
		t.Fatal("expected hasMeeting false for 'calendar', which only Category's meeting rule recognizes")
	}
}

func TestKeywordSummaryTruncatesToFiftyWords(t *testing.T) {
	body := ""
	for i := 0; i < 80; i++ {
		body += "word "
	}
	summary := KeywordSummary(body)
	if got := len(strings.Fields(summary)); got != 50 {
		t.Fatalf("expected 50 words, got %d", got)
	}
}
