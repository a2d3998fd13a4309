// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"log"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relaypool/model"
)

var (
	globalDB struct {
		Client *DB
		Once   sync.Once
	}
)

func MustInit(url ...string) *DB {
	target := memoryDSN

	if len(url) > 0 && url[0] != "" {
		target = url[0]
	}

	globalDB.Once.Do(func() {
		client, err := Open(target)
		if err != nil {
			log.Panic(errors.Wrap(err, "failed to init database"))
		}
		globalDB.Client = client
	})

	return globalDB.Client
}

func AcceptEvent(ctx context.Context, event *model.Event) error {
	return globalDB.Client.AcceptEvent(ctx, event)
}

func GetStoredEvents(ctx context.Context, subscription *model.Subscription) EventIterator {
	return globalDB.Client.SelectEvents(ctx, subscription)
}
