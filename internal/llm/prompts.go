package llm

import "fmt"

// SummarizePrompt builds a one-or-two-sentence summarization prompt, the
// same shape and register as the teacher's ai.SummarizePrompt. The same
// template is used for every model family.
func SummarizePrompt(from, subject, body string) string {
	return fmt.Sprintf(`Summarize this email in one or two sentences.

From: %s
Subject: %s

%s

Respond with only the summary, no preamble, no bullet points.`, from, subject, body)
}

// ChatPrompt composes a RAG prompt: a role instruction, bulleted context
// from retrieval hits, and the user's question, per spec §4.8 step 2.
func ChatPrompt(query string, hits []ChatContextHit) string {
	var b []byte
	b = append(b, "You are an email assistant. Answer the question using only the context below. If the context does not contain the answer, say so.\n\nContext:\n"...)
	for _, h := range hits {
		b = append(b, fmt.Sprintf("- Subject: %s | From: %s | %s\n", h.Subject, h.From, h.Snippet)...)
	}
	b = append(b, fmt.Sprintf("\nQuestion: %s\n", query)...)
	return string(b)
}

// ChatContextHit is one retrieval hit formatted into a chat prompt.
type ChatContextHit struct {
	Subject string
	From    string
	Snippet string
}
