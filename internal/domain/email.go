package domain

import "strings"

// MessageType distinguishes the body format an email was parsed from.
type MessageType string

const (
	MessageHTML MessageType = "html"
	MessageText MessageType = "text"
)

// Email is the source-of-truth document held by the document store.
// Sentences are pre-chunked body paragraphs suitable for embedding.
// Indexed is the idempotency marker shared by the synchronous upsert path and
// the queue worker: once true, upserts for this message are skipped until the
// flag is explicitly cleared.
type Email struct {
	MessageID   string      `json:"message_id"`
	Folder      string      `json:"folder"`
	MessageType MessageType `json:"message_type"`
	Subject     string      `json:"subject,omitempty"`
	SenderName  string      `json:"sender_name,omitempty"`
	SenderEmail string      `json:"sender_email,omitempty"`
	Created     int64       `json:"created"` // epoch milliseconds
	Sentences   []string    `json:"sentences,omitempty"`
	Indexed     bool        `json:"indexed"`
	Deleted     bool        `json:"deleted,omitempty"`
}

// EmbeddableText joins the subject and body sentences into the text the
// embedding is computed from. Returns "" when the email carries no text.
func (e *Email) EmbeddableText() string {
	parts := make([]string, 0, 1+len(e.Sentences))
	if e.Subject != "" {
		parts = append(parts, e.Subject)
	}
	for _, s := range e.Sentences {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Metadata returns the vector index metadata copy for this email with
// null/empty fields already stripped.
func (e *Email) Metadata() map[string]string {
	m := make(map[string]string, 5)
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	if e.Folder != "" {
		m["folder"] = e.Folder
	}
	if e.SenderEmail != "" {
		m["from_email"] = e.SenderEmail
	}
	if e.SenderName != "" {
		m["from_name"] = e.SenderName
	}
	return m
}
