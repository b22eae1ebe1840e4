package main

import (
	"fmt"
	"os"

	"mailengine/internal/account"
	"mailengine/internal/command"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/metadata"
	"mailengine/internal/pipeline"
	"mailengine/internal/retrieval"
	"mailengine/internal/vectordb"
)

// engine bundles every long-lived handle the daemon owns, so
// runDaemonForeground can close them in one place.
type engine struct {
	meta *metadata.DB
	vec  *vectordb.DB
	bus  *eventbus.Bus
	pipe *pipeline.Pipeline

	surface *command.Surface
}

func (e *engine) Close() {
	if e.vec != nil {
		e.vec.Close()
	}
	if e.meta != nil {
		e.meta.Close()
	}
}

// buildEngine opens the metadata/vector stores and wires C1-C10 together,
// the headless equivalent of the teacher's server.New + StateManager.
func buildEngine() (*engine, error) {
	meta, err := metadata.Open()
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	vec, err := vectordb.Open()
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	bus := eventbus.New()
	runtime := llm.New(bus)

	var oa *account.OAuth
	clientID := os.Getenv("MAILENGINE_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("MAILENGINE_OAUTH_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		oa = account.NewOAuth(clientID, clientSecret)
	}

	cache := newTransportCache(meta, oa)
	p := pipeline.New(meta, vec, bus, runtime, nil, cache.resolve, nil)
	r := retrieval.New(meta, vec, nil, runtime)
	surface := command.New(meta, vec, cache.resolve, oa, p, r, runtime)

	return &engine{meta: meta, vec: vec, bus: bus, pipe: p, surface: surface}, nil
}
