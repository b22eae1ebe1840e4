// Package retrieval implements the Retrieval Layer (C8): smart inbox,
// category browsing, keyword and semantic search, neighbor lookup, and a
// RAG-backed chat endpoint, each enriching C4/C3 results.
//
// Grounded on the teacher's internal/cache smart-inbox query shape
// (joins.messages against insights, ordered by priority then date),
// extended with the semantic and chat operations the teacher never had a
// local model to back.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/embedder"
	"mailengine/internal/llm"
	"mailengine/internal/metadata"
	"mailengine/internal/vectordb"
)

// Hit is one enriched search/retrieval result.
type Hit struct {
	Message    metadata.Message
	Insight    *metadata.Insight
	Similarity float64 // 0 for non-semantic hits
}

// Layer is C8, wired to its dependent components.
type Layer struct {
	meta  *metadata.DB
	vec   *vectordb.DB
	embed *embedder.Embedder // nil until an embedder is configured
	llm   *llm.Runtime
}

// New wires a retrieval Layer. embed may be nil, in which case
// SemanticSearch/Neighbors report ErrModelUnavailable and Chat retrieves
// context by keyword search instead.
func New(meta *metadata.DB, vec *vectordb.DB, embed *embedder.Embedder, runtime *llm.Runtime) *Layer {
	return &Layer{meta: meta, vec: vec, embed: embed, llm: runtime}
}

// SetEmbedder installs or replaces the active embedder.
func (l *Layer) SetEmbedder(embed *embedder.Embedder) {
	l.embed = embed
}

// SmartInbox returns messages joined with insights, ranked by priority then
// recency, per spec §4.8.
func (l *Layer) SmartInbox(limit, offset int) ([]Hit, error) {
	joined, err := l.meta.SmartInbox(limit, offset)
	if err != nil {
		return nil, err
	}
	return hitsFromJoined(joined), nil
}

// ByCategory is SmartInbox filtered to one insight category.
func (l *Layer) ByCategory(category string, limit int) ([]Hit, error) {
	joined, err := l.meta.ByCategory(category, limit)
	if err != nil {
		return nil, err
	}
	return hitsFromJoined(joined), nil
}

// KeywordSearch is a substring match over subject/from/body.
func (l *Layer) KeywordSearch(query string, limit, offset int) ([]Hit, error) {
	messages, err := l.meta.KeywordSearch(query, limit, offset)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for _, m := range messages {
		in, err := l.meta.GetInsight(m.ID)
		if apperr.Kind(err) == apperr.ErrNotFound {
			out = append(out, Hit{Message: m})
			continue
		}
		if err != nil {
			continue
		}
		out = append(out, Hit{Message: m, Insight: in})
	}
	return out, nil
}

// SemanticSearch encodes query via C6 and ranks the corpus by cosine
// similarity via C4, enriching hits from C3.
func (l *Layer) SemanticSearch(ctx context.Context, query string, k int) ([]Hit, error) {
	if l.embed == nil {
		return nil, apperr.ErrModelUnavailable
	}
	vec, err := l.embed.Encode(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := l.vec.TopK(vec, l.embed.ModelID(), k)
	if err != nil {
		return nil, err
	}
	return l.enrichMatches(matches)
}

// Neighbors returns the k nearest messages to msgID.
func (l *Layer) Neighbors(msgID string, k int) ([]Hit, error) {
	if l.embed == nil {
		return nil, apperr.ErrModelUnavailable
	}
	matches, err := l.vec.Neighbors(msgID, l.embed.ModelID(), k)
	if err != nil {
		return nil, err
	}
	return l.enrichMatches(matches)
}

func (l *Layer) enrichMatches(matches []vectordb.Match) ([]Hit, error) {
	var out []Hit
	for _, m := range matches {
		msg, err := l.meta.GetMessage(m.MessageID)
		if err != nil {
			continue
		}
		in, err := l.meta.GetInsight(m.MessageID)
		hit := Hit{Message: *msg, Similarity: m.Similarity}
		if err == nil {
			hit.Insight = in
		}
		out = append(out, hit)
	}
	return out, nil
}

func hitsFromJoined(joined []metadata.MessageWithInsight) []Hit {
	out := make([]Hit, 0, len(joined))
	for _, j := range joined {
		out = append(out, Hit{Message: j.Message, Insight: j.Insight})
	}
	return out
}

// chatAnswerMaxTokens bounds C5.generate's answer budget for chat, per spec
// §4.8 step 3 ("a fixed answer budget").
const chatAnswerMaxTokens = 300

// Chat implements spec §4.8's chat(query, k) protocol: semantic search,
// prompt composition, generation, with a deterministic fallback when no
// model is activated.
func (l *Layer) Chat(ctx context.Context, query string, k int) (string, error) {
	hits, err := l.intentAwareSearch(ctx, query, k)
	if err != nil {
		return "", err
	}

	if l.llm == nil || !l.llm.Available() {
		return templatedSummary(hits), nil
	}

	contextHits := make([]llm.ChatContextHit, 0, len(hits))
	for _, h := range hits {
		contextHits = append(contextHits, llm.ChatContextHit{
			Subject: h.Message.Subject,
			From:    h.Message.FromAddress,
			Snippet: h.Message.Snippet,
		})
	}

	prompt := llm.ChatPrompt(query, contextHits)
	answer, err := l.llm.Generate(ctx, prompt, llm.GenerateParams{MaxTokens: chatAnswerMaxTokens})
	if err != nil {
		return templatedSummary(hits), nil
	}
	return answer, nil
}

// intentAwareSearch applies spec §4.8's intent shortcuts before falling
// through to the semantic/keyword blend.
func (l *Layer) intentAwareSearch(ctx context.Context, query string, k int) ([]Hit, error) {
	lower := strings.ToLower(strings.TrimSpace(query))

	switch {
	case strings.Contains(lower, "today"):
		return l.today(k)
	case strings.Contains(lower, "important"), strings.Contains(lower, "priority"):
		return l.important(k)
	}

	if l.embed != nil {
		hits, err := l.SemanticSearch(ctx, query, k)
		if err == nil {
			return hits, nil
		}
	}
	return l.KeywordSearch(query, k, 0)
}

func (l *Layer) today(k int) ([]Hit, error) {
	hits, err := l.SmartInbox(1000, 0)
	if err != nil {
		return nil, err
	}
	midnight := time.Now().Truncate(24 * time.Hour)
	var out []Hit
	for _, h := range hits {
		if h.Message.Date.After(midnight) || h.Message.Date.Equal(midnight) {
			out = append(out, h)
		}
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (l *Layer) important(k int) ([]Hit, error) {
	hits, err := l.SmartInbox(1000, 0)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for _, h := range hits {
		if h.Insight != nil && h.Insight.Priority == metadata.PriorityHigh {
			out = append(out, h)
		}
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// templatedSummary is the deterministic fallback for Chat when C5 is in
// fallback mode, per spec §4.8 step 5.
func templatedSummary(hits []Hit) string {
	if len(hits) == 0 {
		return "No matching messages found."
	}
	var b strings.Builder
	b.WriteString("Found the following relevant messages:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (from %s): %s\n", h.Message.Subject, h.Message.FromAddress, h.Message.Snippet)
	}
	return b.String()
}
