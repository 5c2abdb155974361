package transport

import (
	"context"
	"encoding/json"
	"time"

	"mcpnostr/wire"
)

// announceStep is one leg of the bootstrap sequence in §4.6.6.
type announceStep struct {
	method string
	kind   int
}

var announceSequence = []announceStep{
	{"initialize", wire.KindAnnouncement},
	{"tools/list", wire.KindToolsList},
	{"resources/list", wire.KindResourcesList},
	{"resources/templates/list", wire.KindResourceTemplatesList},
	{"prompts/list", wire.KindPromptsList},
}

const announceInitializeWait = 10 * time.Second

// announcer implements §4.6.6: it drives the local MCP server through a
// synthetic initialize/list sequence under the reserved "announcement" id
// and publishes each response in clear under the matching discovery kind.
type announcer struct {
	server    *Server
	responses chan wire.Message
}

func newAnnouncer(s *Server) *announcer {
	return &announcer{server: s, responses: make(chan wire.Message, 8)}
}

// handleResponse is called by the server's consumer loop whenever an
// outbound message carries the reserved announcement id.
func (a *announcer) handleResponse(msg wire.Message) {
	select {
	case a.responses <- msg:
	default:
		a.server.log.Warn("dropping announcement response, announcer not listening")
	}
}

func (a *announcer) run(ctx context.Context) {
	s := a.server

	initMsg := wire.NewRequest(wire.StringID(announcementID), announceSequence[0].method, emptyParams())
	if err := s.local.Handle(ctx, initMsg); err != nil {
		s.log.Error("announcement bootstrap: initialize failed: %v", err)
		return
	}

	select {
	case resp := <-a.responses:
		a.publishStep(ctx, announceSequence[0], resp)
		s.mu.Lock()
		s.isInitialized = true
		s.mu.Unlock()
		_ = s.local.Handle(ctx, wire.NewNotification("notifications/initialized", nil))
	case <-time.After(announceInitializeWait):
		s.log.Warn("announcement bootstrap: local server did not initialize within %s, proceeding anyway", announceInitializeWait)
	case <-ctx.Done():
		return
	}

	for _, step := range announceSequence[1:] {
		msg := wire.NewRequest(wire.StringID(announcementID), step.method, emptyParams())
		if err := s.local.Handle(ctx, msg); err != nil {
			s.log.Error("announcement bootstrap: %s failed: %v", step.method, err)
			continue
		}
		select {
		case resp := <-a.responses:
			a.publishStep(ctx, step, resp)
		case <-ctx.Done():
			return
		}
	}
}

func (a *announcer) publishStep(ctx context.Context, step announceStep, resp wire.Message) {
	s := a.server
	if resp.Error != nil {
		s.log.Warn("announcement step %s returned an error, not publishing", step.method)
		return
	}
	content := string(resp.Result)
	if content == "" {
		content = "{}"
	}
	if _, err := s.publishClear(ctx, step.kind, content, s.discoveryTags()); err != nil {
		s.log.Error("failed to publish discovery event for %s: %v", step.method, err)
	}
}

func emptyParams() json.RawMessage { return json.RawMessage(`{}`) }
