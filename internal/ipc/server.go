package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"mailengine/internal/command"
	"mailengine/internal/eventbus"
	"mailengine/internal/metadata"
	"mailengine/internal/paths"
)

// syncInterval mirrors the teacher's server.syncInterval: how often every
// account's INBOX is refreshed in the background.
const syncInterval = 10 * time.Minute

// Server is the long-running daemon process: one unix socket accepting
// line-delimited command.Request/Response pairs, adapted from the
// teacher's internal/server.Server (TCP-free, same accept-loop shape).
type Server struct {
	sockPath string
	listener net.Listener
	surface  *command.Surface
	meta     *metadata.DB
	bus      *eventbus.Bus

	clientMu sync.RWMutex
	clients  map[net.Conn]chan Push

	done chan struct{}
	wg   sync.WaitGroup
}

// New binds the control socket and returns an unstarted Server.
func New(surface *command.Surface, meta *metadata.DB, bus *eventbus.Bus) (*Server, error) {
	sockPath, err := paths.Socket()
	if err != nil {
		return nil, err
	}
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}
	os.Chmod(sockPath, 0600)

	return &Server{
		sockPath: sockPath,
		listener: listener,
		surface:  surface,
		meta:     meta,
		bus:      bus,
		clients:  make(map[net.Conn]chan Push),
		done:     make(chan struct{}),
	}, nil
}

// SocketPath reports the bound socket, for status reporting.
func (s *Server) SocketPath() string { return s.sockPath }

// Run accepts connections and runs the background sync poller until ctx is
// cancelled, then drains all goroutines and removes the socket file.
func (s *Server) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.forwardPushes()

	s.wg.Add(1)
	go s.syncPoller(ctx)

	<-ctx.Done()

	s.listener.Close()
	close(s.done)

	s.clientMu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clientMu.Unlock()

	s.wg.Wait()
	os.Remove(s.sockPath)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleClient(conn)
	}
}

func (s *Server) handleClient(conn net.Conn) {
	defer s.wg.Done()

	pushes := make(chan Push, 64)
	s.clientMu.Lock()
	s.clients[conn] = pushes
	s.clientMu.Unlock()
	defer func() {
		s.clientMu.Lock()
		delete(s.clients, conn)
		s.clientMu.Unlock()
		close(pushes)
		conn.Close()
	}()

	encoder := json.NewEncoder(conn)
	encodeMu := &sync.Mutex{}

	go func() {
		for p := range pushes {
			encodeMu.Lock()
			encoder.Encode(p)
			encodeMu.Unlock()
		}
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			encodeMu.Lock()
			encoder.Encode(Reply{ID: env.ID, Response: command.Response{Error: "malformed request"}})
			encodeMu.Unlock()
			continue
		}

		resp := s.surface.Dispatch(context.Background(), env.Request)
		encodeMu.Lock()
		encoder.Encode(Reply{ID: env.ID, Response: resp})
		encodeMu.Unlock()
	}
}

// forwardPushes relays a fixed set of event-bus topics to every connected
// client, the ipc analogue of the teacher's broadcastEvent.
func (s *Server) forwardPushes() {
	defer s.wg.Done()

	subs := map[PushKind]<-chan any{
		PushNewMail:        s.bus.Subscribe(eventbus.TopicMailNew),
		PushIndexProgress:  s.bus.Subscribe(eventbus.TopicIndexingProgress),
		PushIndexComplete:  s.bus.Subscribe(eventbus.TopicIndexingComplete),
		PushEmbedProgress:  s.bus.Subscribe(eventbus.TopicEmbeddingProgress),
		PushEmbedComplete:  s.bus.Subscribe(eventbus.TopicEmbeddingComplete),
		PushModelActivated: s.bus.Subscribe(eventbus.TopicModelComplete),
	}

	var wg sync.WaitGroup
	for kind, ch := range subs {
		wg.Add(1)
		go func(kind PushKind, ch <-chan any) {
			defer wg.Done()
			for {
				select {
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.broadcast(Push{Kind: kind, Payload: payload})
				case <-s.done:
					return
				}
			}
		}(kind, ch)
	}
	wg.Wait()
}

func (s *Server) broadcast(p Push) {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- p:
		default:
		}
	}
}

// syncPoller periodically refreshes every account's INBOX, mirroring the
// teacher's Server.backgroundPoller/syncAllAccounts.
func (s *Server) syncPoller(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncAllAccounts(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) syncAllAccounts(ctx context.Context) {
	accounts, err := s.meta.ListAccounts()
	if err != nil {
		return
	}
	for _, acc := range accounts {
		s.surface.Dispatch(ctx, command.Request{
			Type:      command.TypeFetchEmails,
			AccountID: acc.ID,
			Folder:    "INBOX",
		})
	}
}
