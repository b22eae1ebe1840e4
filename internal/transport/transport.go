// Package transport implements the Mail Transport capability (C2):
// provider-agnostic fetch/send/flag/move plus the IMAP IDLE push loop.
//
// Per the spec's "polymorphism over providers" design note (§9), this is a
// Go interface with two concrete implementations — nativeapi (one
// provider's HTTPS JSON API) and imapsmtp (IMAP/SMTP for the rest) —
// selected per account by the Account record's provider tag, instead of a
// class hierarchy.
package transport

import (
	"context"
	"fmt"
	"strings"
)

// MessageRef identifies a message within one account's transport.
type MessageRef struct {
	Folder string
	UID    uint32
}

// ID builds the deterministic composite id {account_id}:{folder}:{uid}
// from spec §4.2.
func ID(accountID string, ref MessageRef) string {
	return fmt.Sprintf("%s:%s:%d", accountID, ref.Folder, ref.UID)
}

// Attachment is a message part with binary content.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is the transport-level view of a fetched message, translated by
// callers into metadata.Message for storage.
type Message struct {
	Folder        string
	UID           uint32
	MessageIDHdr  string
	InReplyTo     string
	References    []string
	ThreadID      string
	Subject       string
	FromName      string
	FromAddress   string
	To            []string
	Date          string // RFC3339, parsed by the caller
	Snippet       string
	BodyPlain     string
	BodyHTML      string
	IsRead        bool
	IsStarred     bool
	Attachments   []Attachment
}

// OutgoingMessage is what Send transmits.
type OutgoingMessage struct {
	To          []string
	Subject     string
	BodyPlain   string
	BodyHTML    string
	InReplyTo   string
	References  []string
	Attachments []Attachment
}

// Account is the capability set every provider implementation exposes.
type Account interface {
	ListFolders(ctx context.Context) ([]string, error)
	FetchHeaders(ctx context.Context, folder string, sinceUID uint32) ([]Message, error)
	FetchFull(ctx context.Context, ref MessageRef) (*Message, error)
	SetFlags(ctx context.Context, ref MessageRef, add, remove []string) error
	Move(ctx context.Context, ref MessageRef, destFolder string) error
	Send(ctx context.Context, msg OutgoingMessage) error
	// IdleLoop blocks, pushing mail:new notifications until ctx is cancelled.
	IdleLoop(ctx context.Context, folder string, onNew func(folder string)) error
}

// ThreadID derives a thread id per spec §4.2: use the server-supplied
// field when present; otherwise walk In-Reply-To/References to the
// earliest known ancestor and use its Message-ID; absent any ancestor, use
// the message's own Message-ID.
func ThreadID(m Message) string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	if len(m.References) > 0 {
		return strings.TrimSpace(m.References[0])
	}
	if m.InReplyTo != "" {
		return strings.TrimSpace(m.InReplyTo)
	}
	return m.MessageIDHdr
}
