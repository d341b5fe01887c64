package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no command", args: nil, wantErr: "Usage:"},
		{name: "unknown command", args: []string{"deliver"}, wantErr: `unknown command "deliver"`},
		{name: "send without recipients", args: []string{"send", "-subject", "Hi"}, wantErr: "-recipients is required"},
		{name: "send with unknown flag", args: []string{"send", "-nope"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			err := run(context.Background(), tt.args, &stdout)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_SendConsole(t *testing.T) {
	t.Setenv("SENDER_KIND", "console")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DISPATCH_MX_LOOKUP", "false")

	args := []string{
		"send",
		"-env", "",
		"-recipients", writeFile(t, "recipients.json", `["ada@example.com"]`),
		"-subject", "Hello",
		"-body", writeFile(t, "body.html", "<p>Hello</p>"),
		"-from", "news@example.org",
	}

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), args, &stdout))
	assert.Contains(t, stdout.String(), `"succeeded": 1`)
	assert.Contains(t, stdout.String(), `"total": 1`)
}
