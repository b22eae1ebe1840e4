// Package llm implements the LLM Runtime (C5): a curated model catalog, a
// download manager, an activation lock, and streaming generation over an
// OpenAI-compatible chat-completions endpoint.
//
// Grounded on the teacher's internal/ai/client.go (provider selection,
// OpenAI-compatible client via github.com/openai/openai-go) and
// internal/ai/prompts.go (prompt scaffolding style), generalized from a
// single blocking Call into a streaming Generate plus the download/activate
// lifecycle spec §4.5 requires that the teacher never implemented.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"

	"mailengine/internal/apperr"
	"mailengine/internal/eventbus"
	"mailengine/internal/paths"
)

// ModelDescriptor is one entry in the curated catalog list_available returns.
type ModelDescriptor struct {
	ID         string `yaml:"id"`
	Repo       string `yaml:"repo"`
	Filename   string `yaml:"filename"`
	SizeBytes  int64  `yaml:"size_bytes"`
	RAMReqMB   int    `yaml:"ram_req_mb"`
	SpeedClass string `yaml:"speed_class"`
}

// catalogYAML is the curated, hand-maintained set of models this engine
// knows how to download and activate, kept as data rather than Go literals
// so it can be revised without touching code — the same config-as-YAML
// idiom the teacher uses for its own settings catalog.
const catalogYAML = `
- id: qwen2.5-1.5b-instruct-q4
  repo: Qwen/Qwen2.5-1.5B-Instruct-GGUF
  filename: qwen2.5-1.5b-instruct-q4_k_m.gguf
  size_bytes: 1100000000
  ram_req_mb: 2048
  speed_class: fast
- id: llama-3.2-3b-instruct-q4
  repo: meta-llama/Llama-3.2-3B-Instruct-GGUF
  filename: llama-3.2-3b-instruct-q4_k_m.gguf
  size_bytes: 2000000000
  ram_req_mb: 4096
  speed_class: balanced
- id: phi-3.5-mini-instruct-q4
  repo: microsoft/Phi-3.5-mini-instruct-GGUF
  filename: phi-3.5-mini-instruct-q4_k_m.gguf
  size_bytes: 2300000000
  ram_req_mb: 4096
  speed_class: balanced
`

// Catalog is parsed once from catalogYAML at package init. It is small and
// static by design: the runtime never discovers models from the network.
var Catalog []ModelDescriptor

func init() {
	if err := yaml.Unmarshal([]byte(catalogYAML), &Catalog); err != nil {
		panic(fmt.Sprintf("llm: malformed embedded catalog: %v", err))
	}
}

// ListAvailable returns the curated catalog.
func ListAvailable() []ModelDescriptor {
	return Catalog
}

func descriptorFor(modelID string) (ModelDescriptor, bool) {
	for _, d := range Catalog {
		if d.ID == modelID {
			return d, true
		}
	}
	return ModelDescriptor{}, false
}

// GenerateParams mirrors C5's generate(prompt, params).
type GenerateParams struct {
	MaxTokens     int
	StopSequences []string
	WallClock     int // seconds; 0 means no ceiling
}

// Runtime is the process-wide LLM Runtime. It is safe for concurrent use;
// only one Generate runs at a time, and a Generate call made while another
// is in flight returns ErrBusy at once.
type Runtime struct {
	bus *eventbus.Bus

	mu       sync.Mutex // activation lock: guards active + in-flight generate
	active   *ModelDescriptor
	client   openai.Client
	busy     bool
	endpoint string // OpenAI-compatible base URL for the active model
}

// New builds an idle Runtime with no active model (fallback mode).
func New(bus *eventbus.Bus) *Runtime {
	return &Runtime{bus: bus}
}

// ListDownloaded reports which catalog entries have a cached file on disk.
func ListDownloaded() ([]ModelDescriptor, error) {
	dir, err := paths.Models()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	var out []ModelDescriptor
	for _, d := range Catalog {
		if _, err := os.Stat(dir + "/" + d.Filename); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// Download streams modelID's file into the model cache directory under
// paths.Models(), emitting model:progress/complete/error on the bus.
func (r *Runtime) Download(ctx context.Context, modelID, sourceURL string) error {
	d, ok := descriptorFor(modelID)
	if !ok {
		return fmt.Errorf("%w: unknown model %q", apperr.ErrNotFound, modelID)
	}

	dir, err := paths.Models()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportPermanent, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		r.bus.Publish(eventbus.TopicModelError, eventbus.ModelError{ModelID: modelID, Message: err.Error()})
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	defer resp.Body.Close()

	dest := dir + "/" + d.Filename
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	defer f.Close()

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 32*1024)
	lastPct := -1
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				r.bus.Publish(eventbus.TopicModelError, eventbus.ModelError{ModelID: modelID, Message: werr.Error()})
				return fmt.Errorf("%w: %v", apperr.ErrStorage, werr)
			}
			written += int64(n)
			if total > 0 {
				pct := int(written * 100 / total)
				if pct != lastPct {
					r.bus.Publish(eventbus.TopicModelProgress, eventbus.ModelProgress{ModelID: modelID, Percent: pct})
					lastPct = pct
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			r.bus.Publish(eventbus.TopicModelError, eventbus.ModelError{ModelID: modelID, Message: readErr.Error()})
			return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, readErr)
		}
	}

	if err := recordDownload(modelID, sourceURL); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}

	r.bus.Publish(eventbus.TopicModelComplete, eventbus.ModelComplete{ModelID: modelID})
	return nil
}

// Delete removes a downloaded model's cached file. Fails if it is active.
func (r *Runtime) Delete(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.ID == modelID {
		return fmt.Errorf("%w: model %q is active", apperr.ErrBusy, modelID)
	}
	d, ok := descriptorFor(modelID)
	if !ok {
		return apperr.ErrNotFound
	}
	dir, err := paths.Models()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	path := dir + "/" + d.Filename
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	if err := forgetDownload(modelID); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrStorage, err)
	}
	return nil
}

// manifestPath is a small JSON file recording, per downloaded model, the
// source URL it came from and when — metadata the catalog itself (static,
// embedded) has no room for. Read/written with gjson/sjson rather than a
// full unmarshal-mutate-marshal round trip since callers only ever touch
// one model's entry at a time.
func manifestPath() (string, error) {
	dir, err := paths.Models()
	if err != nil {
		return "", err
	}
	return dir + "/downloads.json", nil
}

func recordDownload(modelID, sourceURL string) error {
	path, err := manifestPath()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	updated, err := sjson.SetBytes(raw, modelID+".source_url", sourceURL)
	if err != nil {
		return err
	}
	updated, err = sjson.SetBytes(updated, modelID+".downloaded_at", time.Now().Unix())
	if err != nil {
		return err
	}
	return os.WriteFile(path, updated, 0600)
}

func forgetDownload(modelID string) error {
	path, err := manifestPath()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	updated, err := sjson.DeleteBytes(raw, modelID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, updated, 0600)
}

// DownloadInfo reports the recorded source URL and download time for
// modelID, if the manifest has an entry for it.
func DownloadInfo(modelID string) (sourceURL string, downloadedAt time.Time, ok bool) {
	path, err := manifestPath()
	if err != nil {
		return "", time.Time{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, false
	}
	entry := gjson.GetBytes(raw, modelID)
	if !entry.Exists() {
		return "", time.Time{}, false
	}
	url := entry.Get("source_url").String()
	ts := entry.Get("downloaded_at").Int()
	return url, time.Unix(ts, 0), true
}

// Activate unloads any prior model and points the runtime at endpoint, the
// OpenAI-compatible base URL serving modelID. The actual inference kernel is
// out of scope (spec §2); this runtime only speaks the chat-completions
// wire protocol to whatever local server is hosting it.
func (r *Runtime) Activate(modelID, endpoint, apiKey string) error {
	d, ok := descriptorFor(modelID)
	if !ok {
		return fmt.Errorf("%w: unknown model %q", apperr.ErrNotFound, modelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if apiKey == "" {
		apiKey = "local"
	}
	r.client = openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(endpoint))
	r.endpoint = endpoint
	r.active = &d
	return nil
}

// Available reports whether a model is activated (not in fallback mode).
func (r *Runtime) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// ActiveModelID returns the activated model's id, or "" in fallback mode.
func (r *Runtime) ActiveModelID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.ID
}

// Generate streams tokens for prompt, publishing each on ai:token as it is
// produced, and returns the full concatenated text on completion. Only one
// generate may be in flight at a time; a concurrent caller receives Busy.
func (r *Runtime) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return "", apperr.ErrModelUnavailable
	}
	if r.busy {
		r.mu.Unlock()
		return "", apperr.ErrBusy
	}
	r.busy = true
	client := r.client
	model := r.active.ID
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	if params.WallClock > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.WallClock)*time.Second)
		defer cancel()
	}

	stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:     model,
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens: openai.Int(int64(params.MaxTokens)),
	})
	defer stream.Close()

	var out []byte
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		out = append(out, token...)
		r.bus.Publish(eventbus.TopicAIToken, eventbus.AIToken{Token: token})
		if hasStopSequence(out, params.StopSequences) {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrModelUnavailable, err)
	}
	return string(out), nil
}

func hasStopSequence(out []byte, stops []string) bool {
	for _, s := range stops {
		if s != "" && bytes.Contains(out, []byte(s)) {
			return true
		}
	}
	return false
}
