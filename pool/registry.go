// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"
	"sync"

	"github.com/ice-blockchain/relaypool/model"
)

type (
	// Registry remembers which subscription payloads were already sent, keyed by name.
	// It holds no connection state.
	Registry struct {
		byName       map[string][]*registration
		fingerprints map[string]struct{}
		mx           sync.RWMutex
	}
	registration struct {
		fingerprint string
		filters     model.Filters
	}
)

func NewRegistry() *Registry {
	return &Registry{
		byName:       make(map[string][]*registration),
		fingerprints: make(map[string]struct{}),
	}
}

func subscriptionFingerprint(name string, filters model.Filters) string {
	hash := sha256.Sum256([]byte(name + "\x00" + filters.Fingerprint()))

	return hex.EncodeToString(hash[:])
}

// Subscribe returns false when the same name with the same filters is already registered.
func (r *Registry) Subscribe(name string, filters model.Filters) bool {
	fingerprint := subscriptionFingerprint(name, filters)

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, found := r.fingerprints[fingerprint]; found {
		return false
	}
	r.fingerprints[fingerprint] = struct{}{}
	r.byName[name] = append(r.byName[name], &registration{fingerprint: fingerprint, filters: slices.Clone(filters)})

	return true
}

// Unsubscribe drops every payload registered under the given names and returns the names that existed.
func (r *Registry) Unsubscribe(names ...string) []string {
	r.mx.Lock()
	defer r.mx.Unlock()

	removed := make([]string, 0, len(names))
	for _, name := range names {
		regs, found := r.byName[name]
		if !found {
			continue
		}
		for _, reg := range regs {
			delete(r.fingerprints, reg.fingerprint)
		}
		delete(r.byName, name)
		removed = append(removed, name)
	}

	return removed
}

func (r *Registry) UnsubscribeAll() []string {
	return r.Unsubscribe(r.Names()...)
}

func (r *Registry) Names() []string {
	r.mx.RLock()
	defer r.mx.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Open returns every registered payload per name, in registration order.
func (r *Registry) Open() map[string][]model.Filters {
	r.mx.RLock()
	defer r.mx.RUnlock()

	open := make(map[string][]model.Filters, len(r.byName))
	for name, regs := range r.byName {
		payloads := make([]model.Filters, 0, len(regs))
		for _, reg := range regs {
			payloads = append(payloads, reg.filters)
		}
		open[name] = payloads
	}

	return open
}

// Filters returns the union of all payloads registered under name.
func (r *Registry) Filters(name string) model.Filters {
	r.mx.RLock()
	defer r.mx.RUnlock()

	var filters model.Filters
	for _, reg := range r.byName[name] {
		filters = append(filters, reg.filters...)
	}

	return filters
}

func (r *Registry) Len() int {
	r.mx.RLock()
	defer r.mx.RUnlock()

	return len(r.fingerprints)
}
