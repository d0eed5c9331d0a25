// Package email renders and delivers transactional email: verification links, password
// resets, ticket replies, API key expiry warnings, and contact form submissions.
//
// Handlers and jobs hand a Message to a Dispatcher. The Dispatcher either publishes it to
// Kafka for a worker to deliver, or sends it in a background goroutine through a Sender.
package email

import (
	"context"
	"fmt"
	"log/slog"
)

// Message is one outbound email. It is also the Kafka payload, hence the JSON tags.
type Message struct {
	To       string `json:"to"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
	Template string `json:"template"`
}

// Validate rejects messages that no transport could deliver
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("email message has no recipient")
	}
	if m.Subject == "" {
		return fmt.Errorf("email message has no subject")
	}
	return nil
}

// Sender delivers a message synchronously
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs messages instead of delivering them. Used when email is disabled so local
// development still shows verification links in the server log.
type LogSender struct{}

// Send implements Sender
func (LogSender) Send(_ context.Context, msg Message) error {
	slog.Info("email delivery disabled, message logged",
		"to", msg.To, "subject", msg.Subject, "template", msg.Template, "body", msg.Text)
	return nil
}
