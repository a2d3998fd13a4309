// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
)

type (
	// Network hands out in-memory transports, one per relay URL.
	Network struct {
		transports map[string]*Transport
		failing    map[string]error
		mx         sync.Mutex
	}
	// Transport records every outbound frame and lets tests inject inbound frames and drops.
	Transport struct {
		onFrame    func([]byte)
		onClose    func(error)
		connectErr error
		sendErr    error
		url        string
		sent       [][]byte
		connects   int
		connected  bool
		mx         sync.Mutex
	}
)

var (
	ErrNotConnected = errors.New("fixture transport is not connected")
)

func NewNetwork() *Network {
	return &Network{
		transports: make(map[string]*Transport),
		failing:    make(map[string]error),
	}
}

// Dial returns the transport for url, creating it on first use.
func (n *Network) Dial(url string) *Transport {
	n.mx.Lock()
	defer n.mx.Unlock()

	t, found := n.transports[url]
	if !found {
		t = &Transport{url: url, onFrame: func([]byte) {}, onClose: func(error) {}}
		n.transports[url] = t
	}
	if err, fail := n.failing[url]; fail {
		t.FailConnect(err)
	}

	return t
}

// Fail makes connections to url fail with err until Heal is called.
func (n *Network) Fail(url string, err error) {
	n.mx.Lock()
	n.failing[url] = err
	t := n.transports[url]
	n.mx.Unlock()
	if t != nil {
		t.FailConnect(err)
	}
}

func (n *Network) Heal(url string) {
	n.mx.Lock()
	delete(n.failing, url)
	t := n.transports[url]
	n.mx.Unlock()
	if t != nil {
		t.FailConnect(nil)
	}
}

func (n *Network) Transport(url string) *Transport {
	n.mx.Lock()
	defer n.mx.Unlock()

	return n.transports[url]
}

func (t *Transport) Connect(_ context.Context, _ string) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	t.connects++

	return nil
}

func (t *Transport) Send(_ context.Context, frame []byte) error {
	t.mx.Lock()
	defer t.mx.Unlock()

	if !t.connected {
		return errors.Wrapf(ErrNotConnected, "%v", t.url)
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, slices.Clone(frame))

	return nil
}

func (t *Transport) OnFrame(handler func(frame []byte)) {
	t.mx.Lock()
	t.onFrame = handler
	t.mx.Unlock()
}

func (t *Transport) OnClose(handler func(err error)) {
	t.mx.Lock()
	t.onClose = handler
	t.mx.Unlock()
}

func (t *Transport) Disconnect() error {
	t.mx.Lock()
	t.connected = false
	t.mx.Unlock()

	return nil
}

func (t *Transport) FailConnect(err error) {
	t.mx.Lock()
	t.connectErr = err
	t.mx.Unlock()
}

func (t *Transport) FailSend(err error) {
	t.mx.Lock()
	t.sendErr = err
	t.mx.Unlock()
}

// Inject delivers an inbound frame as if the relay had sent it.
func (t *Transport) Inject(frame []byte) {
	t.mx.Lock()
	onFrame := t.onFrame
	t.mx.Unlock()
	onFrame(frame)
}

// Drop simulates the relay closing the connection.
func (t *Transport) Drop(err error) {
	t.mx.Lock()
	t.connected = false
	onClose := t.onClose
	t.mx.Unlock()
	onClose(err)
}

func (t *Transport) Connected() bool {
	t.mx.Lock()
	defer t.mx.Unlock()

	return t.connected
}

func (t *Transport) Connects() int {
	t.mx.Lock()
	defer t.mx.Unlock()

	return t.connects
}

func (t *Transport) Sent() [][]byte {
	t.mx.Lock()
	defer t.mx.Unlock()

	return slices.Clone(t.sent)
}

// Count returns how many sent frames carry the given envelope label, e.g. "REQ".
func (t *Transport) Count(label string) int {
	prefix := []byte(`["` + label + `"`)
	count := 0
	for _, frame := range t.Sent() {
		if bytes.HasPrefix(frame, prefix) {
			count++
		}
	}

	return count
}

func (t *Transport) Reset() {
	t.mx.Lock()
	t.sent = nil
	t.mx.Unlock()
}
