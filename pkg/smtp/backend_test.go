package smtp

import (
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/pkg/logger"
)

const rawMessage = "From: News <news@example.com>\r\nTo: alice@example.com\r\nSubject: Hello Alice\r\n\r\nHi!\r\n"

func newSession(t *testing.T, backend *Backend) *Session {
	t.Helper()
	session, err := backend.NewSession(nil)
	require.NoError(t, err)
	return session.(*Session)
}

func TestSession_WithoutAuthenticator(t *testing.T) {
	backend := NewBackend(nil, nil, logger.NewMockLogger())
	session := newSession(t, backend)

	assert.Nil(t, session.AuthMechanisms())
	_, err := session.Auth("PLAIN")
	assert.ErrorIs(t, err, smtp.ErrAuthUnsupported)

	require.NoError(t, session.Mail("news@example.com", nil))
	require.NoError(t, session.Rcpt("alice@example.com", nil))
	require.NoError(t, session.Rcpt("bob@example.com", nil))
	require.NoError(t, session.Data(strings.NewReader(rawMessage)))

	messages := backend.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "news@example.com", messages[0].From)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, messages[0].To)
	assert.Equal(t, "Hello Alice", messages[0].Header("Subject"))
	assert.False(t, messages[0].ReceivedAt.IsZero())
}

func TestSession_Auth(t *testing.T) {
	authenticator := func(username, password string) error {
		if username == "dispatch" && password == "secret" {
			return nil
		}
		return errors.New("bad credentials")
	}

	t.Run("required before MAIL", func(t *testing.T) {
		session := newSession(t, NewBackend(authenticator, nil, logger.NewMockLogger()))
		assert.Equal(t, []string{"PLAIN"}, session.AuthMechanisms())
		assert.ErrorIs(t, session.Mail("news@example.com", nil), smtp.ErrAuthRequired)
		assert.ErrorIs(t, session.Rcpt("alice@example.com", nil), smtp.ErrAuthRequired)
		assert.ErrorIs(t, session.Data(strings.NewReader(rawMessage)), smtp.ErrAuthRequired)
	})

	t.Run("valid credentials", func(t *testing.T) {
		session := newSession(t, NewBackend(authenticator, nil, logger.NewMockLogger()))
		server, err := session.Auth("PLAIN")
		require.NoError(t, err)

		_, done, err := server.Next([]byte("\x00dispatch\x00secret"))
		require.NoError(t, err)
		assert.True(t, done)
		assert.NoError(t, session.Mail("news@example.com", nil))
	})

	t.Run("invalid credentials", func(t *testing.T) {
		log := logger.NewMockLogger()
		session := newSession(t, NewBackend(authenticator, nil, log))
		server, err := session.Auth("PLAIN")
		require.NoError(t, err)

		_, _, err = server.Next([]byte("\x00dispatch\x00wrong"))
		require.Error(t, err)
		assert.ErrorIs(t, session.Mail("news@example.com", nil), smtp.ErrAuthRequired)
		assert.Contains(t, log.Messages("warn"), "SMTP capture: Authentication failed")
	})

	t.Run("unsupported mechanism", func(t *testing.T) {
		session := newSession(t, NewBackend(authenticator, nil, logger.NewMockLogger()))
		_, err := session.Auth("CRAM-MD5")
		assert.ErrorIs(t, err, smtp.ErrAuthUnsupported)
	})
}

func TestSession_RecipientFilter(t *testing.T) {
	rejected := &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	filter := func(to string) error {
		if strings.HasPrefix(to, "bounce") {
			return rejected
		}
		return nil
	}
	session := newSession(t, NewBackend(nil, filter, logger.NewMockLogger()))

	require.NoError(t, session.Mail("news@example.com", nil))
	assert.Equal(t, rejected, session.Rcpt("bounce@example.com", nil))
	assert.NoError(t, session.Rcpt("alice@example.com", nil))
	assert.Equal(t, []string{"alice@example.com"}, session.to)
}

func TestSession_Reset(t *testing.T) {
	session := newSession(t, NewBackend(nil, nil, logger.NewMockLogger()))
	require.NoError(t, session.Mail("news@example.com", nil))
	require.NoError(t, session.Rcpt("alice@example.com", nil))

	session.Reset()
	assert.Empty(t, session.from)
	assert.Nil(t, session.to)
	assert.NoError(t, session.Logout())
}

func TestBackend_ChangedAndReset(t *testing.T) {
	backend := NewBackend(nil, nil, logger.NewMockLogger())
	changed := backend.Changed()

	session := newSession(t, backend)
	require.NoError(t, session.Mail("news@example.com", nil))
	require.NoError(t, session.Rcpt("alice@example.com", nil))
	require.NoError(t, session.Data(strings.NewReader(rawMessage)))

	select {
	case <-changed:
	default:
		t.Fatal("expected the change channel to be closed")
	}

	backend.Reset()
	assert.Empty(t, backend.Messages())
}

func TestMessage_HeaderOnInvalidData(t *testing.T) {
	msg := &Message{Data: []byte("not a message")}
	assert.Empty(t, msg.Header("Subject"))
}
