// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"context"
	"io"
	"log"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/relaypool/model"
	"github.com/ice-blockchain/relaypool/pool/internal/transport"
)

func WithPrivateKey(privateKey string) Option {
	return func(p *Pool) {
		p.privateKey = privateKey
	}
}

func WithStore(store Store) Option {
	return func(p *Pool) {
		p.store = store
	}
}

func WithMetrics(registry metrics.Registry) Option {
	return func(p *Pool) {
		p.stats = newStatistics(registry)
	}
}

// New builds a pool without connecting anywhere; relays are attached with AddRelay.
// A nil dial uses the websocket transport.
func New(cfg *Config, dial Dialer, opts ...Option) *Pool {
	p := &Pool{
		dial:      dial,
		registry:  NewRegistry(),
		relays:    make(map[string]*Relay),
		listeners: make(map[string]map[uint64]Listener),
	}
	if cfg != nil {
		p.cfg = *cfg
		p.privateKey = cfg.PrivateKey
	}
	p.cfg.applyDefaults()
	for _, opt := range opts {
		opt(p)
	}
	if p.dial == nil {
		writeTimeout := p.cfg.WriteTimeout
		p.dial = func(string) Transport {
			return transport.NewWebsocket(writeTimeout)
		}
	}
	if p.stats == nil {
		p.stats = newStatistics(nil)
	}
	if p.privateKey != "" {
		publicKey, err := nostr.GetPublicKey(p.privateKey)
		if err != nil {
			log.Panic(errors.Wrap(err, "invalid private key"))
		}
		p.publicKey = publicKey
	}
	seen, err := lru.New[string, *sighting](p.cfg.SeenCacheSize)
	if err != nil {
		log.Panic(errors.Wrapf(err, "failed to create seen cache of size %v", p.cfg.SeenCacheSize))
	}
	p.seen = seen
	latest, err := lru.New[string, model.Timestamp](p.cfg.SeenCacheSize)
	if err != nil {
		log.Panic(errors.Wrapf(err, "failed to create replaceable index of size %v", p.cfg.SeenCacheSize))
	}
	p.latest = latest

	return p
}

func (cfg *Config) applyDefaults() {
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = defaultSeenCacheSize
	}
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = defaultMaxListeners
	}
	if cfg.ListKind == 0 {
		cfg.ListKind = model.KindBookmarkList
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
}

func (p *Pool) PublicKey() string {
	return p.publicKey
}

func (p *Pool) Registry() *Registry {
	return p.registry
}

func (p *Pool) WriteStatistics(w io.Writer) {
	p.stats.writeJSON(w)
}

// Publish signs the event with the pool key and broadcasts it to every connected relay.
// Failures of individual relays are logged and counted; they never fail the call.
func (p *Pool) Publish(ctx context.Context, event *model.Event) (*model.Event, error) {
	if p.privateKey == "" {
		return nil, ErrNoKey
	}
	if err := event.Validate(); err != nil {
		return nil, errors.Wrap(err, "refusing to publish malformed event")
	}
	if err := event.Sign(p.privateKey); err != nil {
		return nil, err
	}
	if err := event.CheckIntegrity(); err != nil {
		log.Printf("ERROR: refusing to publish event %v: %v", event.ID, err)

		return nil, errors.Wrapf(ErrInvalidEvent, "%v", err)
	}
	frame, err := (&model.EventEnvelope{Event: *event}).MarshalJSON()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode event %v", event.ID)
	}
	if p.store != nil {
		if sErr := p.accept(ctx, event); sErr != nil {
			log.Printf("WARN: failed to store published event %v: %v", event.ID, sErr)
		}
	}
	sent := p.broadcast(ctx, frame)
	p.stats.inc(eventsPublished)
	p.stats.fanOut(sent)

	return event, nil
}

// Subscribe returns false without touching the network when the same name and filters are already open.
func (p *Pool) Subscribe(ctx context.Context, name string, filters model.Filters) (bool, error) {
	if name == "" {
		return false, ErrEmptyName
	}
	if len(filters) == 0 {
		return false, errors.Wrapf(ErrNoFilters, "subscription %v", name)
	}
	frame, err := (&model.ReqEnvelope{SubscriptionID: name, Filters: filters}).MarshalJSON()
	if err != nil {
		return false, errors.Wrapf(err, "failed to encode subscription %v", name)
	}
	if !p.registry.Subscribe(name, filters) {
		return false, nil
	}
	fingerprint := subscriptionFingerprint(name, filters)
	p.eachConnected(func(relay *Relay) error {
		return p.request(ctx, relay, name, fingerprint, frame)
	})

	return true, nil
}

func (p *Pool) Unsubscribe(ctx context.Context, names ...string) []string {
	removed := p.registry.Unsubscribe(names...)
	p.closeSubscriptions(ctx, removed)

	return removed
}

func (p *Pool) UnsubscribeAll(ctx context.Context) []string {
	removed := p.registry.UnsubscribeAll()
	p.closeSubscriptions(ctx, removed)

	return removed
}

func (p *Pool) closeSubscriptions(ctx context.Context, names []string) {
	for _, name := range names {
		env := model.CloseEnvelope(name)
		frame, err := env.MarshalJSON()
		if err != nil {
			log.Printf("ERROR: %v", errors.Wrapf(err, "failed to encode CLOSE for %v", name))

			continue
		}
		p.eachConnected(func(relay *Relay) error {
			relay.forget(name)

			return p.send(ctx, relay, frame)
		})
	}
}

// AddRelay attaches the relay and replays every open subscription to it.
// A relay that fails to connect stays in the set with StatusFailed.
func (p *Pool) AddRelay(ctx context.Context, url string) error {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return errors.New("empty relay url")
	}
	p.relaysMx.Lock()
	relay, found := p.relays[url]
	if !found {
		relay = newRelay(url, p.dial(url), p.handleFrame)
		p.relays[url] = relay
	} else if status := relay.Status(); status == StatusConnected || status == StatusConnecting {
		p.relaysMx.Unlock()

		return nil
	}
	relay.setStatus(StatusConnecting, nil)
	p.relaysMx.Unlock()

	return p.connect(ctx, relay)
}

func (p *Pool) RemoveRelay(url string) error {
	url = nostr.NormalizeURL(url)
	p.relaysMx.Lock()
	relay, found := p.relays[url]
	delete(p.relays, url)
	p.relaysMx.Unlock()
	if !found {
		return errors.Wrapf(ErrUnknownRelay, "%v", url)
	}
	err := relay.Disconnect()
	p.stats.connected(len(p.Connected()))

	return err
}

// Reconnect re-establishes the connection of a known relay and replays open subscriptions.
func (p *Pool) Reconnect(ctx context.Context, url string) error {
	url = nostr.NormalizeURL(url)
	p.relaysMx.RLock()
	relay, found := p.relays[url]
	p.relaysMx.RUnlock()
	if !found {
		return errors.Wrapf(ErrUnknownRelay, "%v", url)
	}
	if relay.Status() == StatusConnected {
		if err := relay.Disconnect(); err != nil {
			log.Printf("WARN: %v", err)
		}
	}

	return p.connect(ctx, relay)
}

func (p *Pool) connect(ctx context.Context, relay *Relay) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	err := relay.Connect(dialCtx)
	p.stats.connected(len(p.Connected()))
	if err != nil {
		log.Printf("WARN: %v", err)

		return err
	}

	return p.resubscribe(ctx, relay)
}

func (p *Pool) resubscribe(ctx context.Context, relay *Relay) error {
	open := p.registry.Open()
	names := make([]string, 0, len(open))
	for name := range open {
		names = append(names, name)
	}
	sort.Strings(names)
	var mErr *multierror.Error
	for _, name := range names {
		for _, filters := range open[name] {
			frame, err := (&model.ReqEnvelope{SubscriptionID: name, Filters: filters}).MarshalJSON()
			if err != nil {
				mErr = multierror.Append(mErr, errors.Wrapf(err, "failed to encode subscription %v", name))

				continue
			}
			mErr = multierror.Append(mErr, p.request(ctx, relay, name, subscriptionFingerprint(name, filters), frame))
		}
	}

	return errors.Wrapf(mErr.ErrorOrNil(), "failed to replay subscriptions to %v", relay.URL())
}

// Relays reports the status of every relay in the set, including failed ones.
func (p *Pool) Relays() map[string]Status {
	p.relaysMx.RLock()
	defer p.relaysMx.RUnlock()

	statuses := make(map[string]Status, len(p.relays))
	for url, relay := range p.relays {
		statuses[url] = relay.Status()
	}

	return statuses
}

func (p *Pool) Connected() []string {
	relays := p.connectedRelays()
	urls := make([]string, 0, len(relays))
	for _, relay := range relays {
		urls = append(urls, relay.URL())
	}

	return urls
}

func (p *Pool) connectedRelays() []*Relay {
	p.relaysMx.RLock()
	relays := make([]*Relay, 0, len(p.relays))
	for _, relay := range p.relays {
		if relay.Status() == StatusConnected {
			relays = append(relays, relay)
		}
	}
	p.relaysMx.RUnlock()
	sort.Slice(relays, func(i, j int) bool { return relays[i].URL() < relays[j].URL() })

	return relays
}

// broadcast sends the frame to every connected relay and returns how many accepted it.
func (p *Pool) broadcast(ctx context.Context, frame []byte) int {
	return p.eachConnected(func(relay *Relay) error {
		return p.send(ctx, relay, frame)
	})
}

func (p *Pool) eachConnected(send func(*Relay) error) int {
	var (
		mErr *multierror.Error
		sent int
	)
	for _, relay := range p.connectedRelays() {
		if err := send(relay); err != nil {
			mErr = multierror.Append(mErr, err)

			continue
		}
		sent++
	}
	if err := mErr.ErrorOrNil(); err != nil {
		log.Printf("WARN: broadcast reached %v relay(s): %v", sent, err)
	}

	return sent
}

// request sends a REQ unless the relay already received the same subscription on its current connection.
// A concurrent Subscribe and replay of the open set therefore reach a fresh relay once.
func (p *Pool) request(ctx context.Context, relay *Relay, name, fingerprint string, frame []byte) error {
	if !relay.claim(name, fingerprint) {
		return nil
	}
	if err := p.send(ctx, relay, frame); err != nil {
		relay.release(name, fingerprint)

		return err
	}

	return nil
}

func (p *Pool) send(ctx context.Context, relay *Relay, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	if err := relay.Send(writeCtx, frame); err != nil {
		p.stats.inc(framesFailed)

		return err
	}
	p.stats.inc(framesSent)

	return nil
}

// Close closes every open subscription and disconnects all relays.
func (p *Pool) Close(ctx context.Context) error {
	p.UnsubscribeAll(ctx)
	p.relaysMx.Lock()
	relays := p.relays
	p.relays = make(map[string]*Relay)
	p.relaysMx.Unlock()

	var mErr *multierror.Error
	for _, relay := range relays {
		mErr = multierror.Append(mErr, relay.Disconnect())
	}
	p.listenersMx.Lock()
	p.listeners = make(map[string]map[uint64]Listener)
	p.listenersMx.Unlock()
	p.stats.connected(0)

	return errors.Wrap(mErr.ErrorOrNil(), "failed to disconnect relays")
}
