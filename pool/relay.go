// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"context"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
)

type (
	// Relay owns the connection state of a single relay URL. It never interprets frames.
	Relay struct {
		transport Transport
		lastErr   error
		// Subscription fingerprints already requested on the current connection, by name.
		requested map[string]map[string]struct{}
		url       string
		status    Status
		mx        sync.RWMutex
	}
)

func newRelay(url string, transport Transport, onFrame func(url string, frame []byte)) *Relay {
	r := &Relay{url: url, transport: transport, status: StatusDisconnected, requested: make(map[string]map[string]struct{})}
	transport.OnFrame(func(frame []byte) {
		onFrame(url, frame)
	})
	transport.OnClose(r.closed)

	return r
}

func (r *Relay) URL() string {
	return r.url
}

func (r *Relay) Status() Status {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return r.status
}

func (r *Relay) Err() error {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return r.lastErr
}

func (r *Relay) setStatus(status Status, err error) {
	r.mx.Lock()
	r.status = status
	r.lastErr = err
	r.mx.Unlock()
}

func (r *Relay) Connect(ctx context.Context) error {
	r.setStatus(StatusConnecting, nil)
	if err := r.transport.Connect(ctx, r.url); err != nil {
		err = errors.Wrapf(err, "failed to connect to %v", r.url)
		r.setStatus(StatusFailed, err)

		return err
	}
	r.mx.Lock()
	r.status, r.lastErr = StatusConnected, nil
	clear(r.requested)
	r.mx.Unlock()

	return nil
}

// claim marks the subscription as requested on the current connection.
// It reports false when it already was, in which case the REQ must not be sent again.
func (r *Relay) claim(name, fingerprint string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	sent, found := r.requested[name]
	if !found {
		sent = make(map[string]struct{}, 1)
		r.requested[name] = sent
	}
	if _, found = sent[fingerprint]; found {
		return false
	}
	sent[fingerprint] = struct{}{}

	return true
}

func (r *Relay) release(name, fingerprint string) {
	r.mx.Lock()
	delete(r.requested[name], fingerprint)
	r.mx.Unlock()
}

func (r *Relay) forget(name string) {
	r.mx.Lock()
	delete(r.requested, name)
	r.mx.Unlock()
}

func (r *Relay) Send(ctx context.Context, frame []byte) error {
	if status := r.Status(); status != StatusConnected {
		return errors.Wrapf(ErrNotConnected, "%v is %v", r.url, status)
	}

	return errors.Wrapf(r.transport.Send(ctx, frame), "failed to send frame to %v", r.url)
}

func (r *Relay) Disconnect() error {
	r.setStatus(StatusDisconnected, nil)

	return errors.Wrapf(r.transport.Disconnect(), "failed to disconnect from %v", r.url)
}

func (r *Relay) closed(err error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.status != StatusConnected {
		return
	}
	if err != nil {
		log.Printf("WARN: connection to %v dropped: %v", r.url, err)
		r.status, r.lastErr = StatusFailed, err

		return
	}
	r.status = StatusDisconnected
}
