package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Notifuse/dispatch/pkg/logger"
)

func TestRunCapture_StopsWithContext(t *testing.T) {
	log := logger.NewMockLogger()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runCapture(ctx, captureOptions{Host: "127.0.0.1", Port: 0, Domain: "localhost", Username: "dev", Password: "dev"}, log)
	}()

	require.Eventually(t, func() bool {
		for _, msg := range log.Messages("info") {
			if msg == "SMTP capture server listening" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("capture server did not stop")
	}
	assert.Contains(t, log.Messages("info"), "SMTP capture server stopped")
}
