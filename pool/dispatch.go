// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"context"
	"log"
	"slices"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/relaypool/model"
)

func (p *Pool) handleFrame(url string, frame []byte) {
	env, err := model.ParseMessage(frame)
	if err != nil {
		p.stats.inc(framesMalformed)
		log.Printf("WARN: malformed frame from %v: %v", url, err)

		return
	}
	switch e := env.(type) {
	case *model.EventEnvelope:
		p.HandleEvent(context.Background(), url, &e.Event)
	case *nostr.EOSEEnvelope:
		p.stats.inc(relayEOSE)
	case *nostr.NoticeEnvelope:
		p.stats.inc(relayNotices)
		log.Printf("WARN: notice from %v: %v", url, string(*e))
	case *nostr.ClosedEnvelope:
		log.Printf("WARN: %v closed subscription %v: %v", url, e.SubscriptionID, e.Reason)
	case *nostr.OKEnvelope:
		if !e.OK {
			p.stats.inc(relayRejected)
			log.Printf("WARN: %v rejected event %v: %v", url, e.EventID, e.Reason)
		}
	default:
		log.Printf("WARN: unsupported %v message from %v", env.Label(), url)
	}
}

// accept stores the event, ignoring copies the store already has or holds a newer version of.
func (p *Pool) accept(ctx context.Context, event *model.Event) error {
	if err := p.store.AcceptEvent(ctx, event); err != nil &&
		!errors.Is(err, model.ErrDuplicate) && !errors.Is(err, model.ErrSuperseded) {
		return err
	}

	return nil
}

// HandleEvent processes an event observed on the given relay. It reports whether the event was
// delivered to matching listeners, which happens on its first sighting only. A replaceable event
// that is not strictly newer than the one already delivered for its author and kind is recorded
// but never delivered.
func (p *Pool) HandleEvent(ctx context.Context, url string, event *model.Event) bool {
	p.stats.inc(eventsReceived)
	if err := event.CheckIntegrity(); err != nil {
		p.stats.inc(eventsInvalid)
		log.Printf("WARN: dropping event from %v: %v", url, err)

		return false
	}
	first, superseded := p.observe(event, url)
	if p.store != nil {
		if first {
			if err := p.accept(ctx, event); err != nil {
				log.Printf("WARN: failed to store event %v: %v", event.ID, err)
			}
		}
		if err := p.store.AddEventRelay(ctx, event.ID, url); err != nil {
			log.Printf("WARN: failed to record relay %v for event %v: %v", url, event.ID, err)
		}
	}
	switch {
	case !first:
		p.stats.inc(eventsDuplicated)

		return false
	case superseded:
		p.stats.inc(eventsSuperseded)

		return false
	}
	p.deliver(event, url)

	return true
}

func (p *Pool) observe(event *model.Event, url string) (first, superseded bool) {
	p.seenMx.Lock()
	defer p.seenMx.Unlock()

	if s, found := p.seen.Get(event.ID); found {
		if !slices.Contains(s.relays, url) {
			s.relays = append(s.relays, url)
		}

		return false, false
	}
	p.seen.Add(event.ID, &sighting{relays: []string{url}})
	if !event.IsReplaceable() {
		return true, false
	}
	key := event.PubKey + ":" + strconv.Itoa(event.Kind)
	if current, found := p.latest.Get(key); found && current >= event.CreatedAt {
		return true, true
	}
	p.latest.Add(key, event.CreatedAt)

	return true, false
}

// Provenance lists the relays an event was observed on, in order of arrival.
func (p *Pool) Provenance(eventID string) []string {
	p.seenMx.Lock()
	defer p.seenMx.Unlock()

	if s, found := p.seen.Peek(eventID); found {
		return slices.Clone(s.relays)
	}

	return nil
}

func (p *Pool) deliver(event *model.Event, url string) {
	open := p.registry.Open()
	names := make([]string, 0, len(open))
	for name := range open {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !matchesAny(open[name], event) {
			continue
		}
		for _, listener := range p.listenersOf(name) {
			listener(Delivery{Subscription: name, Event: event, Relay: url})
			p.stats.inc(eventsDelivered)
		}
	}
}

func matchesAny(payloads []model.Filters, event *model.Event) bool {
	for _, filters := range payloads {
		if filters.Match(event) {
			return true
		}
	}

	return false
}

// Listen registers a callback for events matching the named subscription.
// The returned function deregisters it; relay-level subscriptions are not affected.
func (p *Pool) Listen(name string, listener Listener) (func(), error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	p.listenersMx.Lock()
	defer p.listenersMx.Unlock()

	registered := p.listeners[name]
	if len(registered) >= p.cfg.MaxListeners {
		return nil, ErrTooManyListeners
	}
	if registered == nil {
		registered = make(map[uint64]Listener)
		p.listeners[name] = registered
	}
	id := p.nextListenerID
	p.nextListenerID++
	registered[id] = listener

	return func() {
		p.listenersMx.Lock()
		defer p.listenersMx.Unlock()

		if current, found := p.listeners[name]; found {
			delete(current, id)
			if len(current) == 0 {
				delete(p.listeners, name)
			}
		}
	}, nil
}

func (p *Pool) listenersOf(name string) []Listener {
	p.listenersMx.RLock()
	defer p.listenersMx.RUnlock()

	ids := make([]uint64, 0, len(p.listeners[name]))
	for id := range p.listeners[name] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, p.listeners[name][id])
	}

	return listeners
}
