package bridge

import (
	"bufio"
	"context"
	"io"

	"mcpnostr/internal/logging"
	"mcpnostr/transport"
	"mcpnostr/wire"
)

// ClientBridge wires a client transport to a local duplex channel, per
// §2's C7: a local caller's requests come in on in, the transport's inbound
// responses/notifications go out on out. It is the thin orchestrator a
// command-line wrapper composes with an MCP client library's own stdio
// transport.
type ClientBridge struct {
	log       *logging.Logger
	transport *transport.Client
}

func NewClientBridge(t *transport.Client) *ClientBridge {
	return &ClientBridge{log: logging.Named("bridge-client"), transport: t}
}

// Run starts the transport and pumps messages between it and the given
// duplex until ctx is canceled. When in is exhausted, inbound pumping stops,
// but transport messages keep flowing to out until ctx is canceled.
func (b *ClientBridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := b.transport.Start(ctx); err != nil {
		return err
	}
	defer b.transport.Close()

	done := make(chan struct{})
	go b.pumpOutbound(ctx, out, done)
	defer func() { <-done }()

	return b.pumpInbound(ctx, in)
}

func (b *ClientBridge) pumpInbound(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), wire.MaxContentBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := wire.Unmarshal(line)
		if err != nil {
			b.log.Warn("local caller sent invalid JSON-RPC line: %v", err)
			continue
		}
		if err := b.transport.Send(ctx, msg); err != nil {
			b.log.Error("send failed: %v", err)
		}
	}
	return scanner.Err()
}

func (b *ClientBridge) pumpOutbound(ctx context.Context, out io.Writer, done chan struct{}) {
	defer close(done)
	w := bufio.NewWriter(out)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-b.transport.Errors():
			if !ok {
				return
			}
			b.log.Warn("transport error: %v", err)
		case msg, ok := <-b.transport.Recv():
			if !ok {
				return
			}
			data, err := wire.Marshal(msg)
			if err != nil {
				b.log.Error("marshal inbound message: %v", err)
				continue
			}
			w.Write(data)
			w.WriteString("\n")
			w.Flush()
		}
	}
}
