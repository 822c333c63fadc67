package smtp

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/billing-reconciler/internal/config"
)

func TestTransport_From(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tr := NewTransport(config.SMTP{From: "billing@example.com", User: "mailer"}, log)
	assert.Equal(t, "billing@example.com", tr.From())

	tr = NewTransport(config.SMTP{User: "mailer@example.com"}, log)
	assert.Equal(t, "mailer@example.com", tr.From())
}

func TestTransport_ConnectCancelled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := NewTransport(config.SMTP{Host: "127.0.0.1", Port: 2525}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, err := tr.Connect(ctx)
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to dial SMTP server")
}
