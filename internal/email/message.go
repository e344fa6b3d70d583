// Package email defines the outbound message model handed to relay transports.
package email

// Email is a fully personalized message addressed to one campaign recipient.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	// Headers are extra headers set verbatim on the outgoing message.
	Headers   map[string]string
	MessageID string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// WithFrom returns a shallow copy of the message with From replaced.
// Transports use it so the caller's message is never mutated between relay attempts.
func (e *Email) WithFrom(from string) *Email {
	cp := *e
	cp.From = from
	return &cp
}
