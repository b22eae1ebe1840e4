// Package pipeline implements the Enrichment Pipeline (C7): the
// start_indexing/embed_all protocols that turn fetched messages into scored,
// categorized, summarized, embedded corpus entries.
//
// Grounded on the teacher's internal/sync package for the overall
// fetch-then-persist-then-emit shape of a sync pass. Per-message work
// (LLM summarization, embedding) is processed one item at a time, per
// spec §9's backpressure model, rather than fanned out across workers.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/embedder"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/metadata"
	"mailengine/internal/transport"
	"mailengine/internal/vectordb"
)

// bodyTruncateRunes bounds the body text fed to the embedder per message.
const bodyTruncateRunes = 2000

// incrementalReindexMax bounds the pass enqueued in reaction to mail:new,
// per spec §4.7 ("a small max (e.g. 50)").
const incrementalReindexMax = 50

// AccountTransport resolves the transport.Account implementation for one
// stored account, keyed by account id.
type AccountTransport func(accountID string) (transport.Account, error)

// Pipeline is C7, wired to its dependent components.
type Pipeline struct {
	meta     *metadata.DB
	vec      *vectordb.DB
	bus      *eventbus.Bus
	runtime  *llm.Runtime
	embed    *embedder.Embedder // nil until an embedder model is configured
	accounts AccountTransport
	log      *slog.Logger
}

// New wires a Pipeline. embed may be nil; it is consulted lazily so the
// pipeline can run in fallback mode before an embedder is configured.
func New(meta *metadata.DB, vec *vectordb.DB, bus *eventbus.Bus, runtime *llm.Runtime, embed *embedder.Embedder, accounts AccountTransport, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{meta: meta, vec: vec, bus: bus, runtime: runtime, embed: embed, accounts: accounts, log: log}
}

// SetEmbedder installs or replaces the active embedder, called once the
// shell activates an embedding model.
func (p *Pipeline) SetEmbedder(embed *embedder.Embedder) {
	p.embed = embed
}

// FetchTarget is one account+folder this pipeline pulls message headers
// from during a batch.
type FetchTarget struct {
	AccountID string
	Folder    string
}

// StartIndexing implements spec §4.7's start_indexing(max) protocol.
func (p *Pipeline) StartIndexing(ctx context.Context, targets []FetchTarget, max int) error {
	if err := p.meta.TryStartIndexing(max); err != nil {
		return err
	}
	p.bus.Publish(eventbus.TopicIndexingStarted, eventbus.IndexingStarted{})

	messages, fetchErr := p.fetchBatch(ctx, targets, max)
	if fetchErr != nil {
		p.meta.EndIndexing(fetchErr.Error())
		p.bus.Publish(eventbus.TopicIndexingError, eventbus.IndexingError{Message: fetchErr.Error()})
		return fetchErr
	}

	processed := 0
	total := len(messages)
	cancelled := false
	for _, ref := range messages {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := p.enrichOne(ctx, ref.accountID, ref.msg); err != nil {
			p.log.Warn("enrichment failed for message", "message_id", ref.msg.ID, "error", err)
		}
		processed++
		if total > 0 {
			pct := processed * 100 / total
			p.meta.SetIndexingProgress(processed)
			p.bus.Publish(eventbus.TopicIndexingProgress, eventbus.IndexingProgress{Percent: pct})
		}
	}

	if cancelled {
		p.meta.EndIndexing(ctx.Err().Error())
		p.bus.Publish(eventbus.TopicIndexingError, eventbus.IndexingError{Message: ctx.Err().Error()})
		return ctx.Err()
	}

	p.meta.EndIndexing("")
	p.bus.Publish(eventbus.TopicIndexingComplete, eventbus.IndexingComplete{})

	if p.embed != nil {
		go func() {
			if err := p.EmbedAll(context.Background()); err != nil && apperr.Kind(err) != apperr.ErrBusy {
				p.log.Warn("auto-embed after indexing failed", "error", err)
			}
		}()
	}
	return nil
}

// AutoSync implements the Open Question decision in DESIGN.md: an
// incremental start_indexing pass across every stored account's INBOX,
// followed by a retention prune, mirroring the teacher's
// StateManager.Sync hybrid "recent batch + window" strategy generalized to
// a configurable retention window. Called once at daemon startup when
// config.Settings.AutoSyncOnStart is set.
func (p *Pipeline) AutoSync(ctx context.Context, retentionDays int) error {
	accounts, err := p.meta.ListAccounts()
	if err != nil {
		return err
	}

	targets := make([]FetchTarget, 0, len(accounts))
	for _, acc := range accounts {
		targets = append(targets, FetchTarget{AccountID: acc.ID, Folder: "INBOX"})
	}

	if len(targets) > 0 {
		if err := p.StartIndexing(ctx, targets, incrementalReindexMax); err != nil && apperr.Kind(err) != apperr.ErrBusy {
			return err
		}
	}

	return p.pruneRetention(retentionDays)
}

// pruneRetention deletes messages (and their insights, via foreign key, and
// embeddings, purged separately since C4 owns its own file) older than
// retentionDays. retentionDays <= 0 disables pruning.
func (p *Pipeline) pruneRetention(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	ids, err := p.meta.PruneOlderThan(cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.vec.DeleteEmbedding(id); err != nil {
			p.log.Warn("prune: failed to delete embedding", "message_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		p.log.Info("retention prune removed messages", "count", len(ids), "retention_days", retentionDays)
	}
	return nil
}

type fetchedMessage struct {
	accountID string
	msg       metadata.Message
}

func (p *Pipeline) fetchBatch(ctx context.Context, targets []FetchTarget, max int) ([]fetchedMessage, error) {
	var out []fetchedMessage
	for _, t := range targets {
		if len(out) >= max {
			break
		}
		acct, err := p.accounts(t.AccountID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
		}

		cached, err := p.meta.CachedUIDs(t.AccountID, t.Folder)
		if err != nil {
			return nil, err
		}

		headers, err := acct.FetchHeaders(ctx, t.Folder, 0)
		if err != nil {
			return nil, err
		}
		for _, h := range headers {
			if len(out) >= max {
				break
			}
			if cached[h.UID] {
				continue
			}
			full, err := acct.FetchFull(ctx, transport.MessageRef{Folder: t.Folder, UID: h.UID})
			if err != nil {
				p.log.Warn("fetch full message failed", "account", t.AccountID, "uid", h.UID, "error", err)
				continue
			}
			out = append(out, fetchedMessage{accountID: t.AccountID, msg: messageFromTransport(t.AccountID, *full)})
		}
	}
	return out, nil
}

func messageFromTransport(accountID string, m transport.Message) metadata.Message {
	date, err := time.Parse(time.RFC3339, m.Date)
	if err != nil {
		date = time.Now()
	}
	return metadata.Message{
		ID:             transport.ID(accountID, transport.MessageRef{Folder: m.Folder, UID: m.UID}),
		AccountID:      accountID,
		Folder:         m.Folder,
		UID:            m.UID,
		MessageID:      m.MessageIDHdr,
		ThreadID:       transport.ThreadID(m),
		Subject:        m.Subject,
		FromName:       m.FromName,
		FromAddress:    m.FromAddress,
		To:             m.To,
		Date:           date,
		Snippet:        m.Snippet,
		BodyHTML:       m.BodyHTML,
		BodyPlain:      m.BodyPlain,
		IsRead:         m.IsRead,
		IsStarred:      m.IsStarred,
		HasAttachments: len(m.Attachments) > 0,
	}
}

// enrichOne runs spec §4.7 step 4's per-message sub-protocol: upsert,
// score, categorize, flag, summarize, upsert insight.
func (p *Pipeline) enrichOne(ctx context.Context, accountID string, m metadata.Message) error {
	if err := p.meta.StoreMessage(m); err != nil {
		return err
	}

	body := m.BodyPlain
	if body == "" {
		body = m.BodyHTML
	}

	score := PriorityScore(m.Subject, body, m.IsStarred)
	category := Category(m.Subject, body, m.FromAddress, "", HasUnsubscribeLink(body))
	hasDeadline, hasMeeting, hasFinancial := InsightFlags(m.Subject, body)
	summary := p.summarize(ctx, m.FromAddress, m.Subject, body)

	in := metadata.Insight{
		MessageID:     m.ID,
		Summary:       summary,
		Priority:      metadata.Bucket(score),
		PriorityScore: score,
		Category:      category,
		HasDeadline:   hasDeadline,
		HasMeeting:    hasMeeting,
		HasFinancial:  hasFinancial,
	}
	return p.meta.UpsertInsight(in)
}

// summarize uses the LLM runtime when available, falling back to a
// deterministic keyword extractor per spec §4.5's fallback path.
func (p *Pipeline) summarize(ctx context.Context, from, subject, body string) string {
	if p.runtime == nil || !p.runtime.Available() {
		return KeywordSummary(body)
	}

	maxTokens := llm.SummaryMaxTokens(llm.WordCount(body))
	text, err := p.runtime.Generate(ctx, llm.SummarizePrompt(from, subject, body), llm.GenerateParams{MaxTokens: maxTokens})
	if err != nil {
		return KeywordSummary(body)
	}
	return text
}

// EmbedAll implements spec §4.7's embed_all() protocol.
func (p *Pipeline) EmbedAll(ctx context.Context) error {
	if p.embed == nil {
		return apperr.ErrModelUnavailable
	}

	embedded, err := p.vec.EmbeddedIDs(p.embed.ModelID())
	if err != nil {
		return err
	}

	ids, err := p.missingMessageIDs(embedded)
	if err != nil {
		return err
	}

	if err := p.vec.TryStartEmbedding(len(ids), p.embed.ModelID()); err != nil {
		return err
	}
	p.bus.Publish(eventbus.TopicEmbeddingStarted, eventbus.EmbeddingStarted{Total: len(ids)})

	// Processed one item at a time, per spec §9: backpressure is implicit
	// in sequential processing, and each iteration yields a cancellation
	// check rather than racing a bounded worker pool against ctx.Done().
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			p.vec.EndEmbedding(ctx.Err().Error())
			p.bus.Publish(eventbus.TopicEmbeddingComplete, eventbus.EmbeddingComplete{Count: done})
			return ctx.Err()
		}
		if err := p.embedOne(ctx, id); err != nil {
			p.log.Warn("embedding failed", "message_id", id, "error", err)
		}
		done++
		p.vec.SetEmbeddingProgress(done)
		p.bus.Publish(eventbus.TopicEmbeddingProgress, eventbus.EmbeddingProgress{Done: done, Total: len(ids), ID: id})
	}

	p.vec.EndEmbedding("")
	p.bus.Publish(eventbus.TopicEmbeddingComplete, eventbus.EmbeddingComplete{Count: done})
	return nil
}

func (p *Pipeline) embedOne(ctx context.Context, messageID string) error {
	m, err := p.meta.GetMessage(messageID)
	if err != nil {
		return err
	}
	body := m.BodyPlain
	if body == "" {
		body = m.BodyHTML
	}
	text := embedder.ComposeText(m.Subject, m.FromAddress, body, bodyTruncateRunes)
	vec, err := p.embed.Encode(ctx, text)
	if err != nil {
		return err
	}
	return p.vec.Upsert(messageID, vec, p.embed.ModelID())
}

// missingMessageIDs is Message.ids − Embedding.ids, per spec §4.7 step 1.
// It is a small linear scan; the corpus this engine targets (one user's
// mailboxes) never approaches a size where this needs an index-assisted
// set difference.
func (p *Pipeline) missingMessageIDs(embedded map[string]bool) ([]string, error) {
	ids, err := p.meta.AllMessageIDs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		if !embedded[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
