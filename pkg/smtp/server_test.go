package smtp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/pkg/logger"
)

func startServer(t *testing.T, backend *Backend) (*Server, string) {
	t.Helper()
	server := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Domain: "localhost", Logger: logger.NewMockLogger()}, backend)

	addr, err := server.Listen()
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- server.Serve() }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		<-served
	})
	return server, addr.String()
}

func TestNewServer(t *testing.T) {
	backend := NewBackend(nil, nil, logger.NewMockLogger())
	server := NewServer(ServerConfig{Host: "localhost", Port: 2525, Domain: "example.com", Logger: logger.NewMockLogger()}, backend)

	assert.Equal(t, "localhost:2525", server.server.Addr)
	assert.Equal(t, "example.com", server.server.Domain)
	assert.Equal(t, 10*time.Second, server.server.ReadTimeout)
	assert.Equal(t, int64(10*1024*1024), server.server.MaxMessageBytes)
	assert.Equal(t, 50, server.server.MaxRecipients)
	assert.True(t, server.server.AllowInsecureAuth)
	assert.Same(t, backend, server.Backend())
}

func TestServer_ServeWithoutListen(t *testing.T) {
	server := NewServer(ServerConfig{Host: "127.0.0.1", Logger: logger.NewMockLogger()}, NewBackend(nil, nil, logger.NewMockLogger()))
	assert.Error(t, server.Serve())
}

func TestServer_CapturesMessages(t *testing.T) {
	authenticator := func(username, password string) error {
		if password != "secret" {
			return errors.New("bad password")
		}
		return nil
	}
	backend := NewBackend(authenticator, nil, logger.NewMockLogger())
	_, addr := startServer(t, backend)

	err := smtp.SendMail(addr, sasl.NewPlainClient("", "dispatch", "secret"),
		"news@example.com", []string{"alice@example.com"}, strings.NewReader(rawMessage))
	require.NoError(t, err)

	messages := backend.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "news@example.com", messages[0].From)
	assert.Equal(t, []string{"alice@example.com"}, messages[0].To)
	assert.Equal(t, "Hello Alice", messages[0].Header("Subject"))

	err = smtp.SendMail(addr, sasl.NewPlainClient("", "dispatch", "wrong"),
		"news@example.com", []string{"alice@example.com"}, strings.NewReader(rawMessage))
	assert.Error(t, err)
	assert.Len(t, backend.Messages(), 1)
}

func TestServer_RejectedRecipient(t *testing.T) {
	filter := func(to string) error {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	}
	backend := NewBackend(nil, filter, logger.NewMockLogger())
	_, addr := startServer(t, backend)

	err := smtp.SendMail(addr, nil, "news@example.com", []string{"bounce@example.com"}, strings.NewReader(rawMessage))
	require.Error(t, err)

	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr))
	assert.Equal(t, 550, smtpErr.Code)
	assert.Empty(t, backend.Messages())
}

func TestServer_Shutdown(t *testing.T) {
	server := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, Logger: logger.NewMockLogger()}, NewBackend(nil, nil, logger.NewMockLogger()))
	_, err := server.Listen()
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- server.Serve() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
