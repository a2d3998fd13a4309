// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"context"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ice-blockchain/relaypool/model"
)

type (
	Config struct {
		Relays        []string            `yaml:"relays" mapstructure:"relays"`
		PrivateKey    string              `yaml:"privateKey" mapstructure:"privateKey"`
		SeenCacheSize int                 `yaml:"seenCacheSize" mapstructure:"seenCacheSize"`
		MaxListeners  int                 `yaml:"maxListeners" mapstructure:"maxListeners"`
		ListKind      int                 `yaml:"listKind" mapstructure:"listKind"`
		DialTimeout   stdlibtime.Duration `yaml:"dialTimeout" mapstructure:"dialTimeout"`
		WriteTimeout  stdlibtime.Duration `yaml:"writeTimeout" mapstructure:"writeTimeout"`
	}

	// Transport is a single bidirectional text-frame channel to one relay.
	// Callbacks are registered before Connect and may be invoked from any goroutine.
	Transport interface {
		Connect(ctx context.Context, url string) error
		Send(ctx context.Context, frame []byte) error
		OnFrame(func(frame []byte))
		OnClose(func(err error))
		Disconnect() error
	}
	Dialer func(url string) Transport

	Store interface {
		AcceptEvent(ctx context.Context, event *model.Event) error
		AddEventRelay(ctx context.Context, eventID, relayURL string) error
	}

	Delivery struct {
		Event        *model.Event
		Subscription string
		Relay        string
	}
	Listener func(Delivery)

	Status string

	Option func(*Pool)

	Pool struct {
		dial       Dialer
		store      Store
		stats      *statistics
		registry   *Registry
		relays     map[string]*Relay
		seen       *lru.Cache[string, *sighting]
		latest     *lru.Cache[string, model.Timestamp]
		listeners  map[string]map[uint64]Listener
		cfg        Config
		privateKey string
		publicKey  string
		relaysMx   sync.RWMutex
		// Serializes the seen check with provenance updates.
		seenMx         sync.Mutex
		listenersMx    sync.RWMutex
		nextListenerID uint64
	}
	sighting struct {
		relays []string
	}
)

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

const (
	defaultSeenCacheSize = 100_000
	defaultMaxListeners  = 16
	defaultDialTimeout   = 10 * stdlibtime.Second
	defaultWriteTimeout  = 5 * stdlibtime.Second
)

var (
	ErrNoKey            = errors.New("no signing key configured")
	ErrInvalidEvent     = errors.New("event failed integrity check")
	ErrNotConnected     = errors.New("relay is not connected")
	ErrUnknownRelay     = errors.New("unknown relay")
	ErrTooManyListeners = errors.New("too many listeners")
	ErrNoFilters        = errors.New("subscription requires at least one filter")
	ErrEmptyName        = errors.New("subscription name is empty")
)
