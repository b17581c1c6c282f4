package server

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/server/config"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.MetadataBackend = config.BackendMemory
	c.LeaseBackend = config.BackendMemory
	c.BlobBackend = config.BackendFS
	c.BlobDir = t.TempDir()
	c.HTTPAddr = "127.0.0.1:0"
	c.GRPCAddr = "127.0.0.1:0"
	c.LogLevel = "error"
	c.ShutdownTimeout = time.Second
	require.NoError(t, c.Validate())
	return c
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop after context cancel")
	}
}

func TestNewApp_BadBlobDir(t *testing.T) {
	c := memoryConfig(t)
	c.BlobDir = "\x00bad"
	_, err := NewApp(context.Background(), c)
	require.Error(t, err)
}
