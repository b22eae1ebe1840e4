package imapsmtp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/smtp"
	"strings"
	"unicode"

	"mailengine/internal/apperr"
	"mailengine/internal/transport"
)

// sanitizeHeader strips CR/LF to prevent header injection, the same
// discipline as the teacher's smtp.go.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// encodeFilename RFC 2047 Q-encodes a filename if it contains non-ASCII
// characters, otherwise returns it unchanged.
func encodeFilename(name string) string {
	if isASCII(name) {
		return name
	}
	return mime.QEncoding.Encode("utf-8", name)
}

func randomBoundary() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("mailengine-%x", b)
}

// base64LineWriter wraps base64 output at 76 characters per RFC 2045.
type base64LineWriter struct {
	buf  bytes.Buffer
	line int
}

func (w *base64LineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		w.buf.WriteByte(b)
		w.line++
		if w.line == 76 {
			w.buf.WriteString("\r\n")
			w.line = 0
		}
	}
	return len(p), nil
}

func buildMultipartMessage(from string, msg transport.OutgoingMessage) []byte {
	boundary := randomBoundary()
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sanitizeHeader(from))
	fmt.Fprintf(&buf, "To: %s\r\n", sanitizeHeader(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&buf, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	if msg.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", sanitizeHeader(msg.InReplyTo))
	}
	if len(msg.References) > 0 {
		fmt.Fprintf(&buf, "References: %s\r\n", sanitizeHeader(strings.Join(msg.References, " ")))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	writePart := func(contentType, body string) {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; charset=utf-8\r\n", contentType)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&buf)
		qp.Write([]byte(body))
		qp.Close()
		buf.WriteString("\r\n")
	}

	if msg.BodyPlain != "" {
		writePart("text/plain", msg.BodyPlain)
	}
	if msg.BodyHTML != "" {
		writePart("text/html", msg.BodyHTML)
	}

	for _, att := range msg.Attachments {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", att.ContentType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", encodeFilename(att.Filename))

		w := &base64LineWriter{}
		enc := base64.NewEncoder(base64.StdEncoding, w)
		enc.Write(att.Data)
		enc.Close()
		buf.Write(w.buf.Bytes())
		buf.WriteString("\r\n\r\n")
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// Send transmits msg over SMTP with an explicit TLS connection, opened
// per-send rather than held open, matching the teacher's SMTPClient.Send.
func (c *Client) Send(ctx context.Context, msg transport.OutgoingMessage) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)

	var auth smtp.Auth
	if c.cfg.Password != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	}

	raw := buildMultipartMessage(c.cfg.Username, msg)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: c.cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrAuthRequired, err)
		}
	}

	if err := client.Mail(c.cfg.Username); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	for _, to := range msg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrTransportPermanent, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransportTransient, err)
	}
	return w.Close()
}
