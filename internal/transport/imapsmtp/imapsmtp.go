// Package imapsmtp implements the IMAP/SMTP transport.Account variant:
// generic IMAP fetch/flag/move with IDLE push, and SMTP send.
//
// Adapted from the teacher's internal/mail/imap.go (fetch/parse, folder
// discovery via special-use attributes, flag and move operations) and
// internal/mail/smtp.go (header sanitization, multipart builder, base64
// line wrapping, RFC 2047 filename encoding).
package imapsmtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"mailengine/internal/apperr"
	"mailengine/internal/transport"
)

// Config describes how to reach one account's IMAP/SMTP servers.
type Config struct {
	AccountID string
	IMAPHost  string
	IMAPPort  int
	SMTPHost  string
	SMTPPort  int
	Username  string

	// Exactly one of Password or XOAUTH2Token is set.
	Password     string
	XOAUTH2Token string
}

// Client implements transport.Account over IMAP/SMTP.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *imapclient.Client
}

var _ transport.Account = (*Client)(nil)

// New dials and authenticates an IMAP connection. SMTP connections are
// opened per-send rather than held open, matching the teacher's SMTPClient.
func New(cfg Config) (*Client, error) {
	c := &Client{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	addr := fmt.Sprintf("%s:%d", c.cfg.IMAPHost, c.cfg.IMAPPort)
	conn, err := imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: &tls.Config{ServerName: c.cfg.IMAPHost}})
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	if c.cfg.XOAUTH2Token != "" {
		if err := conn.Authenticate(&xoauth2SASLClient{
			username: c.cfg.Username,
			token:    c.cfg.XOAUTH2Token,
		}); err != nil {
			conn.Close()
			return fmt.Errorf("%w: %v", apperr.ErrAuthRequired, err)
		}
	} else {
		if err := conn.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
			conn.Close()
			return fmt.Errorf("%w: %v", apperr.ErrAuthRequired, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// reconnect closes the current (presumably dead) connection and dials a
// fresh one, following the 30s-delay reconnect policy of spec §4.2.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	select {
	case <-time.After(30 * time.Second):
	case <-ctx.Done():
		return apperr.ErrCancelled
	}
	return c.connect()
}

// Close releases the IMAP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ListFolders returns every mailbox name visible to this account.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := c.conn.List("", "*", nil)
	mailboxes, err := cmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	var names []string
	for _, mbox := range mailboxes {
		names = append(names, mbox.Mailbox)
	}
	return names, nil
}

// FetchHeaders fetches header/envelope metadata for every message in
// folder with UID > sinceUID (sinceUID=0 fetches everything).
func (c *Client) FetchHeaders(ctx context.Context, folder string, sinceUID uint32) ([]transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	set := imap.UIDSetNum(imap.UID(sinceUID) + 1)
	if sinceUID == 0 {
		set = imap.UIDSetNum(1)
	}
	set[0].Stop = 0 // open-ended range: fetch through the current UIDNEXT

	fetchOptions := &imap.FetchOptions{
		UID:           true,
		Envelope:      true,
		Flags:         true,
		BodyStructure: &imap.FetchItemBodyStructure{},
	}

	cmd := c.conn.Fetch(set, fetchOptions)
	defer cmd.Close()

	var out []transport.Message
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		data, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, messageFromFetchData(folder, data))
	}
	return out, nil
}

// FetchFull fetches the full body of one message.
func (c *Client) FetchFull(ctx context.Context, ref transport.MessageRef) (*transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Select(ref.Folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	set := imap.UIDSetNum(imap.UID(ref.UID))
	fetchOptions := &imap.FetchOptions{
		UID:      true,
		Envelope: true,
		Flags:    true,
		BodySection: []*imap.FetchItemBodySection{
			{},
		},
	}

	cmd := c.conn.Fetch(set, fetchOptions)
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		return nil, apperr.ErrNotFound
	}
	data, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}

	m := messageFromFetchData(ref.Folder, data)
	if len(data.BodySection) > 0 {
		for _, section := range data.BodySection {
			plain, html := parseBody(section)
			if plain != "" {
				m.BodyPlain = plain
			}
			if html != "" {
				m.BodyHTML = html
			}
		}
	}
	return &m, nil
}

// SetFlags adds/removes IMAP flags on one message.
func (c *Client) SetFlags(ctx context.Context, ref transport.MessageRef, add, remove []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Select(ref.Folder, nil).Wait(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	set := imap.UIDSetNum(imap.UID(ref.UID))
	if len(add) > 0 {
		flags := toIMAPFlags(add)
		if err := c.conn.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: flags}, nil).Close(); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
		}
	}
	if len(remove) > 0 {
		flags := toIMAPFlags(remove)
		if err := c.conn.Store(set, &imap.StoreFlags{Op: imap.StoreFlagsDel, Flags: flags}, nil).Close(); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
		}
	}
	return nil
}

// Move relocates a message to destFolder via IMAP MOVE (falling back to
// copy+expunge on servers without the extension is left to the library).
func (c *Client) Move(ctx context.Context, ref transport.MessageRef, destFolder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.conn.Select(ref.Folder, nil).Wait(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}

	set := imap.UIDSetNum(imap.UID(ref.UID))
	if err := c.conn.Move(set, destFolder).Wait(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	return nil
}

func toIMAPFlags(flags []string) []imap.Flag {
	out := make([]imap.Flag, len(flags))
	for i, f := range flags {
		out[i] = imap.Flag(f)
	}
	return out
}

func messageFromFetchData(folder string, data *imapclient.FetchMessageData) transport.Message {
	m := transport.Message{Folder: folder, UID: uint32(data.UID)}
	if data.Envelope != nil {
		m.Subject = data.Envelope.Subject
		m.MessageIDHdr = data.Envelope.MessageID
		m.InReplyTo = data.Envelope.InReplyTo
		if len(data.Envelope.From) > 0 {
			m.FromName = data.Envelope.From[0].Name
			m.FromAddress = data.Envelope.From[0].Mailbox + "@" + data.Envelope.From[0].Host
		}
		for _, to := range data.Envelope.To {
			m.To = append(m.To, to.Mailbox+"@"+to.Host)
		}
		m.Date = data.Envelope.Date.Format(time.RFC3339)
	}
	for _, flag := range data.Flags {
		switch flag {
		case imap.FlagSeen:
			m.IsRead = true
		case imap.FlagFlagged:
			m.IsStarred = true
		}
	}
	return m
}

// parseBody extracts plain and HTML parts from a fetched body section using
// go-message/mail, the teacher's own MIME-walking library.
func parseBody(section *imapclient.FetchItemDataBodySection) (plain, html string) {
	reader, err := mail.CreateReader(section.Literal)
	if err != nil {
		return "", ""
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && plain == "":
				plain = string(body)
			case strings.HasPrefix(ct, "text/html") && html == "":
				html = string(body)
			}
		}
	}
	return plain, html
}
