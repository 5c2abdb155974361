// Package relaypool implements C2: websocket connections to N relays,
// publish, subscription lifecycle, and reconnection with backoff and
// resubscription. It is grounded on the teacher's messaging/relays package
// (subscriptions.go's per-relay fan-out goroutines, publish.go's per-relay
// publish loop, cache.go's dedup-by-id map), generalized from the teacher's
// hardcoded global relay list and package-level state into an instantiable
// Pool so a client and a server transport in the same process can each own
// one.
package relaypool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"mcpnostr/internal/logging"
)

const (
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
	maxRetryAttempts = 5
	monitorInterval  = 5 * time.Second
	connectTimeout   = 5 * time.Second
)

// EventHandler receives every deduplicated inbound event matching an active
// subscription.
type EventHandler func(nostr.Event)

// EOSEHandler is called once per relay's "end of stored events" signal.
type EOSEHandler func()

// ErrAllRelaysFailed is returned by Publish when every configured relay
// rejected the event, per §4.2's "does not raise unless every relay
// rejected."
var ErrAllRelaysFailed = fmt.Errorf("relaypool: publish failed on every relay")

type subscription struct {
	id      string
	filters nostr.Filters
	onEvent EventHandler
	onEOSE  EOSEHandler
	cancel  map[string]func() // per relay url
}

// Pool maintains connections to a fixed set of relay URLs, publishes events
// to all of them, and fans subscriptions out across them while deduplicating
// by event id, per §4.2.
type Pool struct {
	log *logging.Logger

	mu     deadlock.Mutex
	relays map[string]*relayConn
	conns  map[string]*nostr.Relay
	subs   map[string]*subscription
	seen   *seenSet

	wg       deadlock.WaitGroup
	stopCh   chan struct{}
	started  bool
}

// New creates a pool for the given relay URLs. Connect must be called before
// Publish or Subscribe will do anything useful.
func New(urls []string) *Pool {
	p := &Pool{
		log:    logging.Named("relaypool"),
		relays: make(map[string]*relayConn),
		conns:  make(map[string]*nostr.Relay),
		subs:   make(map[string]*subscription),
		seen:   newSeenSet(4096),
		stopCh: make(chan struct{}),
	}
	for _, u := range urls {
		p.relays[u] = newRelayConn(u)
	}
	return p
}

// Connect dials every configured relay and starts the background monitor
// that reconnects dropped relays with backoff, per §4.2 and §5's 5s
// connection-attempt timeout.
func (p *Pool) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	urls := make([]string, 0, len(p.relays))
	for u := range p.relays {
		urls = append(urls, u)
	}
	p.mu.Unlock()

	for _, u := range urls {
		p.tryConnect(ctx, u)
	}

	p.wg.Add(1)
	go p.monitorLoop(ctx)
	return nil
}

// Disconnect closes every relay connection, cancels all subscriptions, and
// stops the reconnect monitor, idempotently.
func (p *Pool) Disconnect() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	for _, s := range p.subs {
		for _, cancel := range s.cancel {
			cancel()
		}
	}
	p.subs = make(map[string]*subscription)
	for url, conn := range p.conns {
		conn.Close()
		delete(p.conns, url)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.stopCh = make(chan struct{})
}

func (p *Pool) tryConnect(parent context.Context, url string) {
	ctx, cancel := context.WithTimeout(parent, connectTimeout)
	defer cancel()

	relay, err := nostr.RelayConnect(ctx, url)
	p.mu.Lock()
	defer p.mu.Unlock()
	rc := p.relays[url]
	if err != nil {
		p.log.Warn("connect to %s failed: %v", url, err)
		rc.connected = false
		rc.bumpBackoff(time.Now())
		return
	}
	rc.connected = true
	rc.resetBackoff()
	p.conns[url] = relay
	p.log.Info("connected to %s", url)

	for _, sub := range p.subs {
		p.startRelaySub(relay, sub)
	}
}

func (p *Pool) monitorLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.sweepReconnects(ctx, now)
		}
	}
}

func (p *Pool) sweepReconnects(ctx context.Context, now time.Time) {
	p.mu.Lock()
	var toRetry []string
	for url, rc := range p.relays {
		if rc.abandoned {
			continue
		}
		if conn, ok := p.conns[url]; ok {
			select {
			case <-conn.Context().Done():
				rc.connected = false
				delete(p.conns, url)
			default:
				continue
			}
		}
		if now.Before(rc.nextAttempt) {
			continue
		}
		if rc.retryCount >= maxRetryAttempts {
			rc.abandoned = true
			p.log.Warn("abandoning relay %s after %d attempts", url, rc.retryCount)
			continue
		}
		toRetry = append(toRetry, url)
	}
	p.mu.Unlock()

	for _, url := range toRetry {
		p.tryConnect(ctx, url)
	}
}

// Publish sends evt to every connected relay, per §4.2's "resolves after
// attempting publication to all relays"; it only returns an error when every
// relay rejected the publish.
func (p *Pool) Publish(ctx context.Context, evt nostr.Event) error {
	p.mu.Lock()
	conns := make(map[string]*nostr.Relay, len(p.conns))
	for url, c := range p.conns {
		conns[url] = c
	}
	p.mu.Unlock()

	if len(conns) == 0 {
		return ErrAllRelaysFailed
	}

	type result struct {
		url string
		err error
	}
	results := make(chan result, len(conns))
	var wg deadlock.WaitGroup
	for url, relay := range conns {
		wg.Add(1)
		go func(url string, relay *nostr.Relay) {
			defer wg.Done()
			err := relay.Publish(ctx, evt)
			results <- result{url: url, err: err}
		}(url, relay)
	}
	wg.Wait()
	close(results)

	failures := 0
	for r := range results {
		if r.err != nil {
			p.log.Warn("publish to %s failed: %v", r.url, r.err)
			failures++
		}
	}
	if failures == len(conns) {
		return ErrAllRelaysFailed
	}
	return nil
}

// Subscribe fans filters out to every connected relay and delivers the
// merged, deduplicated event stream to onEvent. The returned function
// cancels the subscription on every relay. Subscriptions are re-issued
// automatically against any relay that reconnects, per §4.2's "every active
// subscription MUST be re-issued."
func (p *Pool) Subscribe(filters nostr.Filters, onEvent EventHandler, onEOSE EOSEHandler) (func(), error) {
	sub := &subscription{
		id:      uuid.NewString(),
		filters: filters,
		onEvent: onEvent,
		onEOSE:  onEOSE,
		cancel:  make(map[string]func()),
	}

	p.mu.Lock()
	p.subs[sub.id] = sub
	conns := make(map[string]*nostr.Relay, len(p.conns))
	for url, c := range p.conns {
		conns[url] = c
	}
	p.mu.Unlock()

	for url, relay := range conns {
		_ = url
		p.startRelaySub(relay, sub)
	}

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if s, ok := p.subs[sub.id]; ok {
			for _, cancel := range s.cancel {
				cancel()
			}
			delete(p.subs, sub.id)
		}
	}
	return unsubscribe, nil
}

// UnsubscribeAll cancels every active subscription on every relay.
func (p *Pool) UnsubscribeAll() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()
	for _, s := range subs {
		for _, cancel := range s.cancel {
			cancel()
		}
	}
}

func (p *Pool) startRelaySub(relay *nostr.Relay, sub *subscription) {
	ctx, cancel := context.WithCancel(context.Background())

	relaySub, err := relay.Subscribe(ctx, sub.filters)
	if err != nil {
		p.log.Warn("subscribe on %s failed: %v", relay.URL, err)
		cancel()
		return
	}

	p.mu.Lock()
	sub.cancel[relay.URL] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-relaySub.Events:
				if !ok {
					return
				}
				if p.seen.markSeen(evt.ID) {
					continue
				}
				sub.onEvent(*evt)
			case <-relaySub.EndOfStoredEvents:
				if sub.onEOSE != nil {
					sub.onEOSE()
				}
			}
		}
	}()
}
