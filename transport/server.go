package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"mcpnostr/payments"
	"mcpnostr/relaypool"
	"mcpnostr/signer"
	"mcpnostr/wire"
)

// announcementID is the synthetic JSON-RPC id the server transport uses when
// talking to the local MCP server on behalf of the discovery announcer,
// matching §4.6.3's "bootstrap id announcement" special case.
const announcementID = "announcement"

// LocalServer is the out-of-scope collaborator named in §1: the local MCP
// server instance that actually implements MCP semantics. Per §9's design
// note, the coupling is an explicit duplex rather than mutable callback
// slots: Handle delivers an inbound message, Outbound yields whatever the
// local server emits in response or unprompted (notifications).
type LocalServer interface {
	Handle(ctx context.Context, msg wire.Message) error
	Outbound() <-chan wire.Message
}

// ServerInfo is the optional human-facing metadata §4.6.6/§6 attach to
// announcements and to the initialize response of an encrypted session.
type ServerInfo struct {
	Name    string
	About   string
	Website string
	Picture string
}

// ServerConfig configures a Server transport, covering the configuration
// surface listed in §6.
type ServerConfig struct {
	ServerInfo        ServerInfo
	IsPublicServer    bool
	AllowedPublicKeys []string // empty means no allowlist
	EncryptionMode    EncryptionMode
	SessionTimeout    time.Duration
	Pricing           *payments.Resolver
}

// Server implements C6: it receives inbound requests, maintains per-remote-
// client session state, rewrites ids, routes outbound responses and
// notifications, and publishes discovery announcements.
type Server struct {
	base
	local  LocalServer
	config ServerConfig

	allowed map[string]struct{}

	mu             deadlock.Mutex
	sessions       map[string]*session // client pubkey -> session
	eventToSession map[string]*session // inbound event id -> owning session
	isInitialized  bool

	announcer *announcer

	unsubscribe func()
	sweepStop   chan struct{}
	errs        chan error
}

// NewServer builds a server transport wrapping local, the out-of-scope MCP
// server this bridge exposes remotely.
func NewServer(pool *relaypool.Pool, s *signer.Signer, local LocalServer, cfg ServerConfig) *Server {
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 5 * time.Minute
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedPublicKeys))
	for _, pk := range cfg.AllowedPublicKeys {
		allowed[pk] = struct{}{}
	}
	srv := &Server{
		base:           newBase(pool, s, cfg.EncryptionMode, "server-transport"),
		local:          local,
		config:         cfg,
		allowed:        allowed,
		sessions:       make(map[string]*session),
		eventToSession: make(map[string]*session),
		sweepStop:      make(chan struct{}),
		errs:           make(chan error, 16),
	}
	srv.announcer = newAnnouncer(srv)
	return srv
}

// Errors returns the channel of non-fatal errors raised by this transport.
func (s *Server) Errors() <-chan error { return s.errs }

// Start implements §4.6.1: connect and subscribe, then (if public) bootstrap
// discovery announcements.
func (s *Server) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	unsubscribe, err := s.pool.Subscribe(s.buildFilter(nostr.Now()), s.onEvent, nil)
	if err != nil {
		return fmt.Errorf("transport: server subscribe: %w", err)
	}
	s.unsubscribe = unsubscribe

	go s.consumerLoop(ctx)
	go s.sweepLoop(ctx)

	if s.config.IsPublicServer {
		go s.announcer.run(ctx)
	}
	return nil
}

// Close implements §4.6.7: close the relay pool, clear sessions, stop the
// background loops.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.sweepStop)
	s.disconnect()
	s.mu.Lock()
	s.sessions = make(map[string]*session)
	s.eventToSession = make(map[string]*session)
	s.mu.Unlock()
}

// onEvent implements §4.6.2's inbound event handling.
func (s *Server) onEvent(outer nostr.Event) {
	in, err := s.receiveEvent(outer)
	if err != nil {
		s.log.Warn("dropping inbound event %s: %v", outer.ID, err)
		s.reportError(err)
		return
	}

	if len(s.allowed) > 0 {
		if _, ok := s.allowed[in.inner.PubKey]; !ok {
			s.log.Warn("dropping event %s from unauthorized key %s", outer.ID, in.inner.PubKey)
			s.reportError(newErr(ErrUnauthorized, "sender not in allowed_public_keys", nil))
			return
		}
	}

	s.mu.Lock()
	sess, ok := s.sessions[in.inner.PubKey]
	if !ok {
		sess = newSession(in.inner.PubKey)
		s.sessions[in.inner.PubKey] = sess
	}
	sess.touch(time.Now())
	sess.isEncrypted = in.wasEncrypted
	s.mu.Unlock()

	switch in.msg.Kind {
	case wire.KindRequest:
		s.handleInboundRequest(sess, in)
	case wire.KindNotification:
		if in.msg.Method == "notifications/initialized" {
			s.mu.Lock()
			sess.isInitialized = true
			s.mu.Unlock()
		}
		if err := s.local.Handle(context.Background(), in.msg); err != nil {
			s.log.Error("local server rejected notification %s: %v", in.msg.Method, err)
		}
	default:
		if err := s.local.Handle(context.Background(), in.msg); err != nil {
			s.log.Error("local server rejected response passthrough: %v", err)
		}
	}
}

func (s *Server) handleInboundRequest(sess *session, in inboundEvent) {
	originalID := in.msg.ID
	eventID := in.outer.ID
	if in.wasEncrypted {
		eventID = in.inner.ID
	}

	overloaded := in.msg
	overloaded.ID = wire.StringID(eventID)

	s.mu.Lock()
	sess.pendingByEvent[eventID] = originalID
	s.eventToSession[eventID] = sess
	if token, ok := extractProgressToken(in.msg.Params); ok {
		sess.pendingToken[token] = eventID
	}
	s.mu.Unlock()

	s.maybeAnnouncePaymentRequired(context.Background(), sess, in.msg, eventID)

	if err := s.local.Handle(context.Background(), overloaded); err != nil {
		s.log.Error("local server rejected request %s: %v", overloaded.Method, err)
	}
}

// maybeAnnouncePaymentRequired implements §6's capability pricing flow and
// SPEC_FULL.md §4.8: if the invoked capability carries a configured price,
// a notifications/payment_required message is sent to the caller, tagged
// p=client/e=inbound_event_id, before the local server's result is
// forwarded. A capability with no configured price is a no-op.
func (s *Server) maybeAnnouncePaymentRequired(ctx context.Context, sess *session, msg wire.Message, eventID string) {
	if s.config.Pricing == nil {
		return
	}
	capabilityID, ok := extractCapabilityID(msg)
	if !ok {
		return
	}
	price, currency, ok := s.config.Pricing.Quote(capabilityID)
	if !ok {
		return
	}

	invoice, amount, err := s.resolveInvoice(capabilityID, price, currency)
	if err != nil {
		s.log.Warn("capability %s is priced but no invoice could be built: %v", capabilityID, err)
		return
	}

	params, err := json.Marshal(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"invoice":  invoice,
	})
	if err != nil {
		s.log.Error("failed to marshal payment_required params: %v", err)
		return
	}

	notif := wire.NewNotification("notifications/payment_required", params)
	tags := nostr.Tags{{wire.TagRecipient, sess.clientPubkeyHex}, {wire.TagEvent, eventID}}
	if _, err := s.sendMCPMessage(ctx, notif, sess.clientPubkeyHex, wire.KindRPC, tags, sess.isEncrypted); err != nil {
		s.log.Error("failed to send payment_required to %s: %v", sess.clientPubkeyHex, err)
	}
}

// resolveInvoice produces the invoice string and display amount for a
// priced capability: a configured lightning_address is asked for a live
// invoice sized to price (assumed to be an integer amount of sats); absent
// that, price itself is treated as a pre-generated BOLT11 invoice template
// and decoded for its amount.
func (s *Server) resolveInvoice(capabilityID, price, currency string) (invoice string, amountSats int64, err error) {
	if addr, ok := s.config.Pricing.LightningAddress(capabilityID); ok {
		amountSats, err = strconv.ParseInt(price, 10, 64)
		if err != nil {
			return "", 0, fmt.Errorf("price %q is not an integer sats amount: %w", price, err)
		}
		invoice, err = payments.Invoice(addr, amountSats*1000, capabilityID)
		if err != nil {
			return "", 0, err
		}
		return invoice, amountSats, nil
	}

	decoded, err := payments.Decode(price)
	if err != nil {
		return "", 0, fmt.Errorf("price %q is neither a lightning address quote nor a BOLT11 invoice: %w", price, err)
	}
	return price, decoded.MSatoshi / 1000, nil
}

// extractCapabilityID reads the tool/resource/prompt identifier a request
// invokes, per spec.md's "capability name or URI": tools/call and
// prompts/get carry params.name, resources/read carries params.uri.
func extractCapabilityID(msg wire.Message) (string, bool) {
	if msg.Kind != wire.KindRequest || len(msg.Params) == 0 {
		return "", false
	}
	var probe struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &probe); err != nil {
		return "", false
	}
	if probe.Name != "" {
		return probe.Name, true
	}
	if probe.URI != "" {
		return probe.URI, true
	}
	return "", false
}

// consumerLoop implements §4.6.3: it drains the local server's outbound
// channel and routes each message to the correct remote client (or the
// announcer). The session map it reads is shared with onEvent and the
// inactivity sweeper and guarded by s.mu.
func (s *Server) consumerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sweepStop:
			return
		case msg, ok := <-s.local.Outbound():
			if !ok {
				return
			}
			s.dispatchOutbound(ctx, msg)
		}
	}
}

func (s *Server) dispatchOutbound(ctx context.Context, msg wire.Message) {
	if msg.Kind == wire.KindResponse {
		if msg.ID.IsString && msg.ID.Str == announcementID {
			s.announcer.handleResponse(msg)
			return
		}
		s.dispatchResponse(ctx, msg)
		return
	}
	if msg.Kind == wire.KindNotification {
		s.dispatchNotification(ctx, msg)
	}
}

func (s *Server) dispatchResponse(ctx context.Context, msg wire.Message) {
	eventID := msg.ID.Str

	s.mu.Lock()
	sess, ok := s.eventToSession[eventID]
	restoredID := msg.ID
	if ok {
		restoredID = sess.pendingByEvent[eventID]
	}
	s.mu.Unlock()

	if !ok {
		s.log.Warn("no pending request for outbound response id %s", eventID)
		s.reportError(newErr(ErrNoPendingRequest, "no session pending for id "+eventID, nil))
		return
	}

	outgoing := msg
	outgoing.ID = restoredID

	tags := nostr.Tags{{wire.TagRecipient, sess.clientPubkeyHex}, {wire.TagEvent, eventID}}
	if isInitializeResult(msg) && sess.isEncrypted {
		tags = append(tags, s.discoveryTags()...)
	}

	if _, err := s.sendMCPMessage(ctx, outgoing, sess.clientPubkeyHex, wire.KindRPC, tags, sess.isEncrypted); err != nil {
		s.log.Error("failed to send response to %s: %v", sess.clientPubkeyHex, err)
		s.reportError(err)
	}

	s.mu.Lock()
	delete(sess.pendingByEvent, eventID)
	delete(s.eventToSession, eventID)
	for token, ev := range sess.pendingToken {
		if ev == eventID {
			delete(sess.pendingToken, token)
		}
	}
	s.mu.Unlock()
}

func (s *Server) dispatchNotification(ctx context.Context, msg wire.Message) {
	s.sweepOnce(time.Now())

	if msg.Method == "notifications/progress" {
		if token, ok := extractProgressToken(msg.Params); ok {
			s.dispatchProgress(ctx, msg, token)
			return
		}
	}

	s.mu.Lock()
	var targets []*session
	for _, sess := range s.sessions {
		if sess.isInitialized {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		tags := nostr.Tags{{wire.TagRecipient, sess.clientPubkeyHex}}
		if _, err := s.sendMCPMessage(ctx, msg, sess.clientPubkeyHex, wire.KindRPC, tags, sess.isEncrypted); err != nil {
			s.log.Error("failed to broadcast notification to %s: %v", sess.clientPubkeyHex, err)
		}
	}
}

func (s *Server) dispatchProgress(ctx context.Context, msg wire.Message, token string) {
	s.mu.Lock()
	var owner *session
	var eventID string
	for _, sess := range s.sessions {
		if ev, ok := sess.pendingToken[token]; ok {
			owner, eventID = sess, ev
			break
		}
	}
	s.mu.Unlock()

	if owner == nil {
		s.reportError(newErr(ErrProgressWithoutRequest, "progress token "+token+" has no session", nil))
		return
	}

	tags := nostr.Tags{{wire.TagRecipient, owner.clientPubkeyHex}, {wire.TagEvent, eventID}}
	if _, err := s.sendMCPMessage(ctx, msg, owner.clientPubkeyHex, wire.KindRPC, tags, owner.isEncrypted); err != nil {
		s.log.Error("failed to send progress to %s: %v", owner.clientPubkeyHex, err)
	}
}

// sweepLoop implements §5/§8's session inactivity cleanup: within
// timeout+5s of last activity, a session's pending map is removed.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *Server) sweepOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pubkey, sess := range s.sessions {
		if sess.idle(now, s.config.SessionTimeout) {
			for eventID := range sess.pendingByEvent {
				delete(s.eventToSession, eventID)
			}
			delete(s.sessions, pubkey)
		}
	}
}

func (s *Server) discoveryTags() nostr.Tags {
	var tags nostr.Tags
	info := s.config.ServerInfo
	if info.Name != "" {
		tags = append(tags, nostr.Tag{wire.TagName, info.Name})
	}
	if info.About != "" {
		tags = append(tags, nostr.Tag{wire.TagAbout, info.About})
	}
	if info.Website != "" {
		tags = append(tags, nostr.Tag{wire.TagWebsite, info.Website})
	}
	if info.Picture != "" {
		tags = append(tags, nostr.Tag{wire.TagPicture, info.Picture})
	}
	if s.config.EncryptionMode != EncryptionDisabled {
		tags = append(tags, nostr.Tag{wire.TagSupportEncryption})
	}
	tags = append(tags, s.capabilityPriceTags()...)
	return tags
}

// capabilityPriceTags builds the zero-or-more cap tags of §6:
// [cap, <capability name or URI>, <price string>, <currency>]. A price
// string that decodes as a BOLT11 invoice template is normalized to its
// amount in sats first, per SPEC_FULL.md §4.6.6; any other price string
// (e.g. a flat "21"/"sats" pair) passes through verbatim.
func (s *Server) capabilityPriceTags() nostr.Tags {
	if s.config.Pricing == nil {
		return nil
	}
	var tags nostr.Tags
	for _, p := range s.config.Pricing.All() {
		price, currency := p.Price, p.Currency
		if decoded, err := payments.Decode(price); err == nil {
			price = fmt.Sprintf("%d", decoded.MSatoshi/1000)
			currency = "sats"
		}
		tags = append(tags, nostr.Tag{wire.TagCap, p.CapabilityID, price, currency})
	}
	return tags
}

func (s *Server) reportError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func isInitializeResult(msg wire.Message) bool {
	if msg.Kind != wire.KindResponse || msg.Result == nil {
		return false
	}
	var probe struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.Unmarshal(msg.Result, &probe); err != nil {
		return false
	}
	return probe.ProtocolVersion != ""
}

// extractProgressToken reads params._meta.progressToken per §4.6.5. The
// token is treated as a string; MCP's JSON schema also permits a number,
// which is normalized to its decimal string form.
func extractProgressToken(params json.RawMessage) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var probe struct {
		Meta struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &probe); err != nil || len(probe.Meta.ProgressToken) == 0 {
		return "", false
	}
	var asString string
	if err := json.Unmarshal(probe.Meta.ProgressToken, &asString); err == nil {
		return asString, true
	}
	var asNumber json.Number
	if err := json.Unmarshal(probe.Meta.ProgressToken, &asNumber); err == nil {
		return asNumber.String(), true
	}
	return "", false
}
