package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"mailengine/internal/command"
	"mailengine/internal/paths"
)

// Client is a control-plane connection to a running daemon, adapted from
// the teacher's internal/client.Client.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	reqID   uint64

	mu      sync.Mutex
	pending map[string]chan command.Response
	closed  bool

	Pushes chan Push
}

// Connect dials the daemon's control socket.
func Connect() (*Client, error) {
	sockPath, err := paths.Socket()
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is it running?)", err)
	}

	c := &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		pending: make(map[string]chan command.Response),
		Pushes:  make(chan Push, 64),
	}
	go c.readLoop()
	return c, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// Call sends req and blocks for the matching response.
func (c *Client) Call(req command.Request) (command.Response, error) {
	id := strconv.FormatUint(atomic.AddUint64(&c.reqID, 1), 10)

	ch := make(chan command.Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.encoder.Encode(Envelope{ID: id, Request: req}); err != nil {
		return command.Response{}, err
	}

	resp, ok := <-ch
	if !ok {
		return command.Response{}, fmt.Errorf("daemon connection closed before responding")
	}
	return resp, nil
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			for _, ch := range c.pending {
				close(ch)
			}
			c.mu.Unlock()
			if !closed {
				close(c.Pushes)
			}
			return
		}

		var reply Reply
		if err := json.Unmarshal(line, &reply); err == nil && reply.ID != "" {
			c.mu.Lock()
			ch, ok := c.pending[reply.ID]
			c.mu.Unlock()
			if ok {
				ch <- reply.Response
				continue
			}
		}

		var push Push
		if err := json.Unmarshal(line, &push); err == nil && push.Kind != "" {
			select {
			case c.Pushes <- push:
			default:
			}
		}
	}
}
