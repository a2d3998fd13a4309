// SPDX-License-Identifier: ice License 1.0

package lists

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relaypool/model"
)

type (
	// Source returns the newest known list event of the author, or nil when there is none.
	Source interface {
		LatestList(ctx context.Context, author string, kind model.Kind) (*model.Event, error)
	}
	Publisher interface {
		Publish(ctx context.Context, event *model.Event) (*model.Event, error)
	}
	// signer is implemented by publishers that re-sign events with their own key.
	signer interface {
		PublicKey() string
	}

	// Mutator applies add/remove deltas to the author's replaceable list:
	// fetch the latest list, apply the delta, sign and publish the replacement.
	// Concurrent mutations of the same list are not serialized; the last published event wins.
	Mutator struct {
		source     Source
		publisher  Publisher
		now        func() model.Timestamp
		privateKey string
		publicKey  string
		kind       model.Kind
	}

	Bookmarks struct {
		Public  []string
		Private []string
	}
)

var (
	ErrUndecryptable = errors.New("private list content cannot be decrypted")
	ErrNotList       = errors.New("event is not a replaceable list")
	ErrKeyMismatch   = errors.New("publisher signs with a different key")
)
