package smtp

import (
	"bytes"
	"errors"
	"io"
	"net/mail"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/Notifuse/dispatch/pkg/logger"
)

// AuthHandler checks SMTP credentials
type AuthHandler func(username, password string) error

// RecipientFilter may reject a recipient at RCPT TO, returning an *smtp.SMTPError sets the reply code
type RecipientFilter func(to string) error

// Message is one message accepted by the capture server
type Message struct {
	From       string
	To         []string
	Data       []byte
	ReceivedAt time.Time
}

// Header returns a header of the message, or an empty string when the data does not parse
func (m *Message) Header(name string) string {
	parsed, err := mail.ReadMessage(bytes.NewReader(m.Data))
	if err != nil {
		return ""
	}
	return parsed.Header.Get(name)
}

// Backend implements smtp.Backend and keeps every accepted message in memory
type Backend struct {
	authenticator AuthHandler
	filter        RecipientFilter
	logger        logger.Logger

	mu       sync.Mutex
	messages []*Message
	notify   chan struct{}
}

// NewBackend creates a capture backend. A nil authenticator accepts unauthenticated sessions.
func NewBackend(authenticator AuthHandler, filter RecipientFilter, logger logger.Logger) *Backend {
	return &Backend{
		authenticator: authenticator,
		filter:        filter,
		logger:        logger,
		notify:        make(chan struct{}),
	}
}

// NewSession creates a new SMTP session
// This is called when a client connects to the SMTP server
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &Session{
		backend:       b,
		logger:        b.logger,
		authenticated: b.authenticator == nil,
	}, nil
}

// Messages returns the messages captured so far
func (b *Backend) Messages() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Message(nil), b.messages...)
}

// Changed is closed the next time a message is captured
func (b *Backend) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

// Reset drops every captured message
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

func (b *Backend) store(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	close(b.notify)
	b.notify = make(chan struct{})
}

// Session represents an SMTP session for a single connection
type Session struct {
	backend       *Backend
	logger        logger.Logger
	authenticated bool
	username      string
	from          string
	to            []string
}

// AuthMechanisms returns a list of available auth mechanisms
func (s *Session) AuthMechanisms() []string {
	if s.backend.authenticator == nil {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth returns a SASL server for the specified mechanism
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if s.backend.authenticator == nil || mech != sasl.Plain {
		return nil, smtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if err := s.backend.authenticator(username, password); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"username": username,
				"error":    err.Error(),
			}).Warn("SMTP capture: Authentication failed")
			return errors.New("invalid credentials")
		}
		s.authenticated = true
		s.username = username
		return nil
	}), nil
}

// Mail is called when the client sends a MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

// Rcpt is called when the client sends a RCPT TO command
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}
	if s.backend.filter != nil {
		if err := s.backend.filter(to); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"to":    to,
				"error": err.Error(),
			}).Debug("SMTP capture: Recipient rejected")
			return err
		}
	}
	s.to = append(s.to, to)
	return nil
}

// Data is called when the client sends the message data
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return smtp.ErrAuthRequired
	}

	data, err := io.ReadAll(r)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("SMTP capture: Failed to read message data")
		return errors.New("failed to read message")
	}

	s.backend.store(&Message{
		From:       s.from,
		To:         append([]string(nil), s.to...),
		Data:       data,
		ReceivedAt: time.Now(),
	})

	s.logger.WithFields(map[string]interface{}{
		"from":         s.from,
		"to":           s.to,
		"message_size": len(data),
	}).Info("SMTP capture: Message received")
	return nil
}

// Reset is called when the client sends a RSET command
func (s *Session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout is called when the client disconnects
func (s *Session) Logout() error {
	return nil
}
