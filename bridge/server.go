package bridge

import (
	"context"

	"mcpnostr/internal/logging"
	"mcpnostr/transport"
)

// ServerBridge wires a server transport to a local MCP server, per §2's C7.
// It is deliberately thin: all session/correlation logic lives in
// transport.Server, all local-server plumbing lives in a LocalServer
// implementation (e.g. ProcessLocalServer); this type just starts and stops
// both together.
type ServerBridge struct {
	log       *logging.Logger
	transport *transport.Server
	local     interface{ Close() error }
}

func NewServerBridge(t *transport.Server, local interface{ Close() error }) *ServerBridge {
	return &ServerBridge{log: logging.Named("bridge-server"), transport: t, local: local}
}

// Run starts the server transport and blocks until ctx is canceled, then
// tears both sides down.
func (b *ServerBridge) Run(ctx context.Context) error {
	if err := b.transport.Start(ctx); err != nil {
		return err
	}
	go func() {
		for err := range b.transport.Errors() {
			b.log.Warn("transport error: %v", err)
		}
	}()
	<-ctx.Done()
	b.transport.Close()
	if b.local != nil {
		return b.local.Close()
	}
	return nil
}
