package main

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/config"
	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/logger"
	"github.com/Notifuse/dispatch/pkg/smtp"
)

func ptr[T any](v T) *T { return &v }

func startCaptureServer(t *testing.T) (*smtp.Backend, string, int) {
	t.Helper()
	backend := smtp.NewBackend(nil, nil, logger.NewMockLogger())
	server := smtp.NewServer(smtp.ServerConfig{Host: "127.0.0.1", Domain: "localhost", Logger: logger.NewMockLogger()}, backend)
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

	host, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	portNumber, err := strconv.Atoi(port)
	require.NoError(t, err)
	return backend, host, portNumber
}

func testConfig(host string, port int) *config.Config {
	return &config.Config{
		SMTP: config.SMTPConfig{Host: host, Port: port, FromEmail: "news@example.org", FromName: "Example"},
		Dispatch: config.DispatchConfig{
			SenderKind:     config.SenderSMTP,
			MaxBatchSize:   100,
			HistoryTimeout: time.Second,
			Providers: map[domain.ProviderKind]config.ProviderOverride{
				domain.ProviderKindDefault: {
					MinDelay:           ptr(time.Millisecond),
					RateLimitPerMinute: ptr(6000),
					BurstLimit:         ptr(100),
					MaxRetries:         ptr(0),
					Timeout:            ptr(5 * time.Second),
				},
			},
		},
	}
}

func TestRunSend(t *testing.T) {
	backend, host, port := startCaptureServer(t)
	cfg := testConfig(host, port)
	cfg.History.Enabled = true

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO delivery_history").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectClose()

	previous := connectHistory
	connectHistory = func(*config.Config, logger.Logger) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { connectHistory = previous })

	opts := sendOptions{
		RecipientsPath: writeFile(t, "recipients.json", `["ada@example.com", {"email": "bob@example.org", "name": "Bob"}, "not-an-email"]`),
		Template: templateOptions{
			Subject:  "Hello {{ email }}",
			BodyPath: writeFile(t, "body.html", "<p>Hi {{ email }}</p>"),
		},
	}

	log := logger.NewMockLogger()
	result, err := runSend(context.Background(), cfg, opts, log)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, map[string]int{"render": 1}, result.ErrorBreakdown)

	messages := backend.Messages()
	require.Len(t, messages, 2)
	subjects := []string{messages[0].Header("Subject"), messages[1].Header("Subject")}
	assert.ElementsMatch(t, []string{"Hello ada@example.com", "Hello bob@example.org"}, subjects)
	for _, msg := range messages {
		assert.Equal(t, "news@example.org", msg.From)
	}

	assert.Contains(t, log.Messages("warn"), "Delivery failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSend_Errors(t *testing.T) {
	cfg := testConfig("127.0.0.1", 2525)
	body := writeFile(t, "body.html", "<p>hi</p>")

	tests := []struct {
		name    string
		cfg     *config.Config
		opts    sendOptions
		wantErr string
	}{
		{
			name:    "missing recipients file",
			cfg:     cfg,
			opts:    sendOptions{RecipientsPath: "/nonexistent/recipients.json"},
			wantErr: "failed to read recipients",
		},
		{
			name:    "invalid recipients",
			cfg:     cfg,
			opts:    sendOptions{RecipientsPath: writeFile(t, "bad.json", `{}`)},
			wantErr: "must be an array",
		},
		{
			name:    "invalid template",
			cfg:     cfg,
			opts:    sendOptions{RecipientsPath: writeFile(t, "r.json", `["ada@example.com"]`), Template: templateOptions{BodyPath: body}},
			wantErr: "subject is required",
		},
		{
			name: "no recipients",
			cfg:  cfg,
			opts: sendOptions{
				RecipientsPath: writeFile(t, "empty.json", `[]`),
				Template:       templateOptions{Subject: "Hi", BodyPath: body},
			},
			wantErr: "NO_RECIPIENTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runSend(context.Background(), tt.cfg, tt.opts, logger.NewMockLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
