// Package ipc is the daemon control plane: a line-delimited JSON protocol
// over a unix socket, the same shape as the teacher's internal/server, but
// carrying command.Request/command.Response instead of a bespoke wire
// schema, since internal/command already names every operation.
package ipc

import "mailengine/internal/command"

// Envelope wraps a command.Request with a correlation ID so a client can
// match concurrent responses, mirroring the teacher's server.Request.ID.
type Envelope struct {
	ID string `json:"id,omitempty"`
	command.Request
}

// Reply wraps a command.Response with the same correlation ID.
type Reply struct {
	ID string `json:"id,omitempty"`
	command.Response
}

// PushKind identifies an asynchronous server-to-client notification,
// the ipc analogue of the teacher's server.Event.
type PushKind string

const (
	PushNewMail        PushKind = "new_mail"
	PushIndexProgress  PushKind = "index_progress"
	PushIndexComplete  PushKind = "index_complete"
	PushEmbedProgress  PushKind = "embed_progress"
	PushEmbedComplete  PushKind = "embed_complete"
	PushModelActivated PushKind = "model_activated"
)

// Push is a server-initiated line sent between replies, distinguished from
// a Reply on read by the absence of a matching pending ID.
type Push struct {
	Kind    PushKind `json:"kind"`
	Payload any      `json:"payload,omitempty"`
}
