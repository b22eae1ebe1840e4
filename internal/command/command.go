// Package command implements the Command Surface (C10): a finite set of
// request/response operations, each mapping one-to-one to an internal
// method, serializable so that internal/ipc can carry them over the
// daemon's Unix-socket control plane.
//
// Grounded on the teacher's internal/server/protocol.go (Request/Response
// shape, Type-tagged dispatch) and server.go's handleRequest switch,
// adapted into a single transport-agnostic Dispatch entry point that
// internal/ipc's socket server calls; the GUI shell itself is out of
// scope (spec §2).
package command

import (
	"context"
	"fmt"

	"mailengine/internal/account"
	"mailengine/internal/apperr"
	"mailengine/internal/embedder"
	"mailengine/internal/llm"
	"mailengine/internal/metadata"
	"mailengine/internal/paths"
	"mailengine/internal/pipeline"
	"mailengine/internal/retrieval"
	"mailengine/internal/transport"
	"mailengine/internal/vectordb"
)

// Request/Type constants, one per command-surface operation named in spec §6.
const (
	TypeSignIn               = "sign_in"
	TypeSignOut              = "sign_out"
	TypeListAccounts         = "list_accounts"
	TypeAddAccount           = "add_account"
	TypeRemoveAccount        = "remove_account"
	TypeSetActiveAccount     = "set_active_account"
	TypeFetchEmails          = "fetch_emails"
	TypeGetEmail             = "get_email"
	TypeSendEmail            = "send_email"
	TypeMarkRead             = "mark_read"
	TypeStar                 = "star"
	TypeArchive              = "archive"
	TypeTrash                = "trash"
	TypeInitDatabase         = "init_database"
	TypeGetSmartInbox        = "get_smart_inbox"
	TypeGetEmailsByCategory  = "get_emails_by_category"
	TypeSearchSmartEmails    = "search_smart_emails"
	TypeGetIndexingStatus    = "get_indexing_status"
	TypeResetIndexingStatus  = "reset_indexing_status"
	TypeStartEmailIndexing   = "start_email_indexing"
	TypeChatQuery            = "chat_query"
	TypeInitRAG              = "init_rag"
	TypeIsRAGReady           = "is_rag_ready"
	TypeGetEmbeddingStatus   = "get_embedding_status"
	TypeEmbedAllEmails       = "embed_all_emails"
	TypeSearchEmailsSemantic = "search_emails_semantic"
	TypeFindSimilarEmails    = "find_similar_emails"
	TypeChatWithContext      = "chat_with_context"
	TypeClearEmbeddings      = "clear_embeddings"
	TypeCheckModelStatus     = "check_model_status"
	TypeDownloadModel        = "download_model"
	TypeActivateModel        = "activate_model"
	TypeDeleteModel          = "delete_model"
	TypeGetAvailableModels   = "get_available_ai_models"
	TypeGetDownloadedModels  = "get_downloaded_models"
)

// destFolder names, used by archive/trash's Move calls.
const (
	folderArchive = "Archive"
	folderTrash   = "Trash"
)

// Request is the serializable shape of one command-surface call.
type Request struct {
	Type      string          `json:"type"`
	Account   *metadata.Account `json:"account,omitempty"` // add_account payload
	AccountID string          `json:"account_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Folder    string          `json:"folder,omitempty"`
	Query     string          `json:"query,omitempty"`
	Category  string          `json:"category,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
	Max       int             `json:"max,omitempty"`
	ModelID   string          `json:"model_id,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
	APIKey    string          `json:"api_key,omitempty"`
	To        []string        `json:"to,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body,omitempty"`
	IsRead    *bool           `json:"is_read,omitempty"`
	IsStarred *bool           `json:"is_starred,omitempty"`
}

// Response is the serializable shape of one command-surface result.
type Response struct {
	OK        bool                     `json:"ok"`
	Error     string                   `json:"error,omitempty"`
	Accounts  []metadata.Account       `json:"accounts,omitempty"`
	Messages  []retrieval.Hit          `json:"messages,omitempty"`
	Message   *metadata.Message        `json:"message,omitempty"`
	Insight   *metadata.Insight        `json:"insight,omitempty"`
	Indexing  *metadata.IndexingState  `json:"indexing,omitempty"`
	Embedding *vectordb.EmbeddingState `json:"embedding,omitempty"`
	Answer    string                   `json:"answer,omitempty"`
	Ready     bool                     `json:"ready,omitempty"`
	Models    []llm.ModelDescriptor    `json:"models,omitempty"`
}

// Surface is C10, wired to every component it dispatches into.
type Surface struct {
	meta      *metadata.DB
	vec       *vectordb.DB
	accounts  pipeline.AccountTransport
	oauth     *account.OAuth
	pipeline  *pipeline.Pipeline
	retrieval *retrieval.Layer
	runtime   *llm.Runtime
	embed     *embedder.Embedder // nil until init_rag activates one
}

// New wires a command Surface. oauth may be nil if no OAuth-capable
// provider is configured; accounts resolves the transport.Account for one
// stored account id, the same resolver the pipeline uses.
func New(meta *metadata.DB, vec *vectordb.DB, accounts pipeline.AccountTransport, oauth *account.OAuth, p *pipeline.Pipeline, r *retrieval.Layer, runtime *llm.Runtime) *Surface {
	return &Surface{meta: meta, vec: vec, accounts: accounts, oauth: oauth, pipeline: p, retrieval: r, runtime: runtime}
}

// Dispatch routes req to its handler and maps any error to the §7 taxonomy
// surfaced in Response.Error.
func (s *Surface) Dispatch(ctx context.Context, req Request) Response {
	handler, ok := s.handlers()[req.Type]
	if !ok {
		return errorResponse(fmt.Errorf("unknown command %q", req.Type))
	}
	return handler(ctx, req)
}

type handlerFunc func(ctx context.Context, req Request) Response

func (s *Surface) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypeSignIn:               s.signIn,
		TypeSignOut:              s.signOut,
		TypeListAccounts:         s.listAccounts,
		TypeAddAccount:           s.addAccount,
		TypeRemoveAccount:        s.removeAccount,
		TypeSetActiveAccount:     s.setActiveAccount,
		TypeFetchEmails:          s.fetchEmails,
		TypeGetEmail:             s.getEmail,
		TypeSendEmail:            s.sendEmail,
		TypeMarkRead:             s.markRead,
		TypeStar:                 s.star,
		TypeArchive:              s.archive,
		TypeTrash:                s.trash,
		TypeInitDatabase:         s.initDatabase,
		TypeGetSmartInbox:        s.getSmartInbox,
		TypeGetEmailsByCategory:  s.getEmailsByCategory,
		TypeSearchSmartEmails:    s.searchSmartEmails,
		TypeGetIndexingStatus:    s.getIndexingStatus,
		TypeResetIndexingStatus:  s.resetIndexingStatus,
		TypeStartEmailIndexing:   s.startEmailIndexing,
		TypeChatQuery:            s.chatQuery,
		TypeInitRAG:              s.initRAG,
		TypeIsRAGReady:           s.isRAGReady,
		TypeGetEmbeddingStatus:   s.getEmbeddingStatus,
		TypeEmbedAllEmails:       s.embedAllEmails,
		TypeSearchEmailsSemantic: s.searchEmailsSemantic,
		TypeFindSimilarEmails:    s.findSimilarEmails,
		TypeChatWithContext:      s.chatQuery, // same RAG protocol, explicit-context caller
		TypeClearEmbeddings:      s.clearEmbeddings,
		TypeCheckModelStatus:     s.checkModelStatus,
		TypeDownloadModel:        s.downloadModel,
		TypeActivateModel:        s.activateModel,
		TypeDeleteModel:          s.deleteModel,
		TypeGetAvailableModels:   s.getAvailableModels,
		TypeGetDownloadedModels:  s.getDownloadedModels,
	}
}

func errorResponse(err error) Response {
	return Response{OK: false, Error: kindOrRaw(err)}
}

func ok() Response {
	return Response{OK: true}
}

func kindOrRaw(err error) string {
	if k := apperr.Kind(err); k != nil {
		return k.Error()
	}
	return err.Error()
}

// --- account handlers ---

// signIn runs the PKCE authorization-code flow for accountID, persisting
// the resulting access/refresh tokens. Presenting the consent URL to the
// user is the shell's responsibility (spec §2 excludes the consent UI);
// here it is only logged.
func (s *Surface) signIn(ctx context.Context, req Request) Response {
	if s.oauth == nil {
		return errorResponse(fmt.Errorf("%w: no OAuth provider configured", apperr.ErrAuthRequired))
	}
	token, err := s.oauth.Authorize(ctx, func(url string) {
		fmt.Println("open this URL to sign in:", url)
	})
	if err != nil {
		return errorResponse(err)
	}
	if err := account.Put(req.AccountID, account.KindOAuthAccess, account.Credential{
		AccountID: req.AccountID, Kind: account.KindOAuthAccess, Secret: token.AccessToken, ExpiresAt: token.Expiry,
	}); err != nil {
		return errorResponse(err)
	}
	if token.RefreshToken != "" {
		if err := account.Put(req.AccountID, account.KindOAuthRefresh, account.Credential{
			AccountID: req.AccountID, Kind: account.KindOAuthRefresh, Secret: token.RefreshToken,
		}); err != nil {
			return errorResponse(err)
		}
	}
	return ok()
}

// signOut removes an account's stored OAuth credentials.
func (s *Surface) signOut(ctx context.Context, req Request) Response {
	_ = account.Delete(req.AccountID, account.KindOAuthAccess)
	_ = account.Delete(req.AccountID, account.KindOAuthRefresh)
	return ok()
}

func (s *Surface) listAccounts(ctx context.Context, req Request) Response {
	accounts, err := s.meta.ListAccounts()
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Accounts: accounts}
}

func (s *Surface) addAccount(ctx context.Context, req Request) Response {
	if req.Account == nil {
		return errorResponse(fmt.Errorf("add_account requires an account payload"))
	}
	if err := s.meta.UpsertAccount(*req.Account); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) removeAccount(ctx context.Context, req Request) Response {
	if err := s.meta.DeleteAccount(req.AccountID); err != nil {
		return errorResponse(err)
	}
	_ = account.Delete(req.AccountID, account.KindAppPassword)
	_ = account.Delete(req.AccountID, account.KindOAuthAccess)
	_ = account.Delete(req.AccountID, account.KindOAuthRefresh)
	return ok()
}

func (s *Surface) setActiveAccount(ctx context.Context, req Request) Response {
	if err := s.meta.SetActiveAccount(req.AccountID); err != nil {
		return errorResponse(err)
	}
	return ok()
}

// --- message handlers ---

// fetchEmails triggers a bounded indexing pass for one account+folder and
// returns the refreshed smart inbox, combining fetch and read into one call
// for callers that do not need the two steps split.
func (s *Surface) fetchEmails(ctx context.Context, req Request) Response {
	folder := req.Folder
	if folder == "" {
		folder = "INBOX"
	}
	max := req.Max
	if max == 0 {
		max = 50
	}
	target := pipeline.FetchTarget{AccountID: req.AccountID, Folder: folder}
	if err := s.pipeline.StartIndexing(ctx, []pipeline.FetchTarget{target}, max); err != nil {
		return errorResponse(err)
	}
	hits, err := s.retrieval.SmartInbox(req.Limit, req.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) getEmail(ctx context.Context, req Request) Response {
	msg, err := s.meta.GetMessage(req.MessageID)
	if err != nil {
		return errorResponse(err)
	}
	resp := Response{OK: true, Message: msg}
	if in, err := s.meta.GetInsight(req.MessageID); err == nil {
		resp.Insight = in
	}
	return resp
}

func (s *Surface) sendEmail(ctx context.Context, req Request) Response {
	acct, err := s.accounts(req.AccountID)
	if err != nil {
		return errorResponse(err)
	}
	msg := transport.OutgoingMessage{To: req.To, Subject: req.Subject, BodyPlain: req.Body}
	if err := acct.Send(ctx, msg); err != nil {
		return errorResponse(err)
	}
	return ok()
}

// transportRef resolves a stored message's account+transport reference,
// used by the flag/move handlers to best-effort reflect local changes to
// the server.
func (s *Surface) transportRef(messageID string) (transport.Account, transport.MessageRef, error) {
	m, err := s.meta.GetMessage(messageID)
	if err != nil {
		return nil, transport.MessageRef{}, err
	}
	acct, err := s.accounts(m.AccountID)
	if err != nil {
		return nil, transport.MessageRef{}, err
	}
	return acct, transport.MessageRef{Folder: m.Folder, UID: m.UID}, nil
}

func (s *Surface) markRead(ctx context.Context, req Request) Response {
	if err := s.meta.SetFlags(req.MessageID, req.IsRead, nil); err != nil {
		return errorResponse(err)
	}
	if acct, ref, err := s.transportRef(req.MessageID); err == nil && req.IsRead != nil {
		add, remove := []string{}, []string{}
		if *req.IsRead {
			add = append(add, "\\Seen")
		} else {
			remove = append(remove, "\\Seen")
		}
		_ = acct.SetFlags(ctx, ref, add, remove)
	}
	return ok()
}

func (s *Surface) star(ctx context.Context, req Request) Response {
	if err := s.meta.SetFlags(req.MessageID, nil, req.IsStarred); err != nil {
		return errorResponse(err)
	}
	if acct, ref, err := s.transportRef(req.MessageID); err == nil && req.IsStarred != nil {
		add, remove := []string{}, []string{}
		if *req.IsStarred {
			add = append(add, "\\Flagged")
		} else {
			remove = append(remove, "\\Flagged")
		}
		_ = acct.SetFlags(ctx, ref, add, remove)
	}
	return ok()
}

func (s *Surface) archive(ctx context.Context, req Request) Response {
	return s.moveTo(ctx, req.MessageID, folderArchive)
}

func (s *Surface) trash(ctx context.Context, req Request) Response {
	return s.moveTo(ctx, req.MessageID, folderTrash)
}

func (s *Surface) moveTo(ctx context.Context, messageID, destFolder string) Response {
	acct, ref, err := s.transportRef(messageID)
	if err != nil {
		return errorResponse(err)
	}
	if err := acct.Move(ctx, ref, destFolder); err != nil {
		return errorResponse(err)
	}
	return ok()
}

// --- storage lifecycle ---

// initDatabase ensures every on-disk directory the engine needs exists;
// the databases themselves are opened (and schema-migrated) by the caller
// before a Surface is ever constructed, so this is idempotent setup a
// shell can call defensively on first launch.
func (s *Surface) initDatabase(ctx context.Context, req Request) Response {
	for _, resolve := range []func() (string, error){paths.MessagesDB, paths.VectorsDB, paths.Models, paths.Credentials} {
		if _, err := resolve(); err != nil {
			return errorResponse(err)
		}
	}
	return ok()
}

// --- retrieval handlers ---

func (s *Surface) getSmartInbox(ctx context.Context, req Request) Response {
	hits, err := s.retrieval.SmartInbox(req.Limit, req.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) getEmailsByCategory(ctx context.Context, req Request) Response {
	hits, err := s.retrieval.ByCategory(req.Category, req.Limit)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) searchSmartEmails(ctx context.Context, req Request) Response {
	hits, err := s.retrieval.KeywordSearch(req.Query, req.Limit, req.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) searchEmailsSemantic(ctx context.Context, req Request) Response {
	hits, err := s.retrieval.SemanticSearch(ctx, req.Query, req.Limit)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) findSimilarEmails(ctx context.Context, req Request) Response {
	hits, err := s.retrieval.Neighbors(req.MessageID, req.Limit)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Messages: hits}
}

func (s *Surface) chatQuery(ctx context.Context, req Request) Response {
	k := req.Limit
	if k == 0 {
		k = 5
	}
	answer, err := s.retrieval.Chat(ctx, req.Query, k)
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Answer: answer}
}

// --- indexing/embedding handlers ---

func (s *Surface) getIndexingStatus(ctx context.Context, req Request) Response {
	status, err := s.meta.IndexingStatus()
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Indexing: &status}
}

func (s *Surface) resetIndexingStatus(ctx context.Context, req Request) Response {
	if err := s.meta.ResetIndexingState(); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) startEmailIndexing(ctx context.Context, req Request) Response {
	folder := req.Folder
	if folder == "" {
		folder = "INBOX"
	}
	max := req.Max
	if max == 0 {
		max = 200
	}

	var targets []pipeline.FetchTarget
	if req.AccountID != "" {
		targets = []pipeline.FetchTarget{{AccountID: req.AccountID, Folder: folder}}
	} else {
		accounts, err := s.meta.ListAccounts()
		if err != nil {
			return errorResponse(err)
		}
		for _, a := range accounts {
			targets = append(targets, pipeline.FetchTarget{AccountID: a.ID, Folder: folder})
		}
	}

	if err := s.pipeline.StartIndexing(ctx, targets, max); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) getEmbeddingStatus(ctx context.Context, req Request) Response {
	status, err := s.vec.EmbeddingStatus()
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Embedding: &status}
}

func (s *Surface) embedAllEmails(ctx context.Context, req Request) Response {
	if err := s.pipeline.EmbedAll(ctx); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) clearEmbeddings(ctx context.Context, req Request) Response {
	if err := s.vec.Clear(); err != nil {
		return errorResponse(err)
	}
	return ok()
}

// initRAG activates the embedder that backs semantic search and chat,
// wiring it into both the pipeline (for embed_all) and the retrieval layer
// (for semantic search/neighbors/chat).
func (s *Surface) initRAG(ctx context.Context, req Request) Response {
	s.embed = embedder.New(req.ModelID, req.Endpoint, req.APIKey)
	s.pipeline.SetEmbedder(s.embed)
	s.retrieval.SetEmbedder(s.embed)
	return ok()
}

func (s *Surface) isRAGReady(ctx context.Context, req Request) Response {
	return Response{OK: true, Ready: s.embed != nil}
}

// --- LLM runtime handlers ---

func (s *Surface) checkModelStatus(ctx context.Context, req Request) Response {
	downloaded, err := llm.ListDownloaded()
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Ready: s.runtime.Available(), Models: downloaded}
}

func (s *Surface) downloadModel(ctx context.Context, req Request) Response {
	if err := s.runtime.Download(ctx, req.ModelID, req.SourceURL); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) activateModel(ctx context.Context, req Request) Response {
	if err := s.runtime.Activate(req.ModelID, req.Endpoint, req.APIKey); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) deleteModel(ctx context.Context, req Request) Response {
	if err := s.runtime.Delete(req.ModelID); err != nil {
		return errorResponse(err)
	}
	return ok()
}

func (s *Surface) getAvailableModels(ctx context.Context, req Request) Response {
	return Response{OK: true, Models: llm.ListAvailable()}
}

func (s *Surface) getDownloadedModels(ctx context.Context, req Request) Response {
	downloaded, err := llm.ListDownloaded()
	if err != nil {
		return errorResponse(err)
	}
	return Response{OK: true, Models: downloaded}
}
