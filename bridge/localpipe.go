// Package bridge implements C7: thin orchestrators that wire a transport to
// its local collaborator — a duplex channel for the client side, or a local
// MCP server process for the server side — over the out-of-scope stdio pipe
// named in SPEC_FULL.md §1/§4.9.
package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"mcpnostr/internal/logging"
	"mcpnostr/wire"
)

// ProcessLocalServer implements transport.LocalServer by framing messages as
// newline-delimited JSON over a subprocess's stdin/stdout, the "local
// transport (standard input/output pipe)" the spec explicitly carves out as
// an external collaborator.
type ProcessLocalServer struct {
	log *logging.Logger

	stdin  io.WriteCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd

	mu      sync.Mutex
	writer  *bufio.Writer
	outbound chan wire.Message
}

// StartProcess launches name with args and wires its stdio as the local MCP
// server. The caller owns the returned server's lifetime and must call
// Close when done.
func StartProcess(ctx context.Context, name string, args ...string) (*ProcessLocalServer, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: start local MCP server: %w", err)
	}

	p := NewPipeLocalServer(stdout, stdin)
	p.cmd = cmd
	return p, nil
}

// NewPipeLocalServer wires an arbitrary duplex pipe (a subprocess's stdio, a
// net.Conn, or an in-memory io.Pipe in tests) as a LocalServer.
func NewPipeLocalServer(r io.ReadCloser, w io.WriteCloser) *ProcessLocalServer {
	p := &ProcessLocalServer{
		log:      logging.Named("bridge-localpipe"),
		stdin:    w,
		stdout:   r,
		writer:   bufio.NewWriter(w),
		outbound: make(chan wire.Message, 64),
	}
	go p.readLoop()
	return p
}

func (p *ProcessLocalServer) readLoop() {
	defer close(p.outbound)
	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), wire.MaxContentBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := wire.Unmarshal(line)
		if err != nil {
			p.log.Warn("local server sent invalid JSON-RPC line: %v", err)
			continue
		}
		p.outbound <- msg
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("local server stdout closed: %v", err)
	}
}

// Handle writes msg as one newline-terminated JSON-RPC line to the local
// server's stdin.
func (p *ProcessLocalServer) Handle(ctx context.Context, msg wire.Message) error {
	data, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: marshal message to local server: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("bridge: write to local server: %w", err)
	}
	if _, err := p.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("bridge: write to local server: %w", err)
	}
	return p.writer.Flush()
}

// Outbound returns the channel of messages the local server emits.
func (p *ProcessLocalServer) Outbound() <-chan wire.Message { return p.outbound }

// Close closes the pipes and, if this instance owns a subprocess, waits for
// it to exit.
func (p *ProcessLocalServer) Close() error {
	p.stdin.Close()
	p.stdout.Close()
	if p.cmd != nil {
		return p.cmd.Wait()
	}
	return nil
}
