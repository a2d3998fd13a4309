// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"encoding/hex"
	"strconv"
	"testing"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"

	"github.com/ice-blockchain/relaypool/model"
)

func generateHexString() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}

	return hex.EncodeToString(buf[:])
}

func generateKind() model.Kind {
	kinds := []model.Kind{model.KindTextNote, 6, 7, 30023}

	return kinds[rand.Intn(len(kinds))]
}

func helperGenerateEvent(t *testing.T, db *DB, withTags bool) *model.Event {
	t.Helper()

	var ev model.Event
	ev.ID = generateHexString()
	ev.PubKey = generateHexString()
	ev.CreatedAt = model.Timestamp(1_700_000_000 + rand.Intn(1_000_000))
	ev.Kind = generateKind()
	ev.Content = generateHexString()
	ev.Tags = model.Tags{}
	if withTags {
		ev.Tags = model.Tags{
			{"e", generateHexString()},
			{"p", generateHexString()},
			{"t", strconv.Itoa(rand.Intn(5))},
		}
	}
	require.NoError(t, db.AcceptEvent(context.Background(), &ev))

	return &ev
}

func helperFillDatabase(t *testing.T, db *DB, size int) []*model.Event {
	t.Helper()

	events := make([]*model.Event, 0, size)
	bar := progressbar.Default(int64(size), "generating events")
	for range size {
		bar.Add(1) //nolint:errcheck
		events = append(events, helperGenerateEvent(t, db, true))
	}

	return events
}

func helperSelectEventsN(t *testing.T, db *DB, limit int) (events map[string]*model.Event) {
	t.Helper()

	filter := model.Filter{}
	filter.Limit = limit
	events = make(map[string]*model.Event, limit)
	for ev, err := range db.SelectEvents(context.Background(), &model.Subscription{Filters: model.Filters{filter}}) {
		require.NoError(t, err)
		events[ev.ID] = ev
	}

	return events
}

func TestIteratorSelectEvents(t *testing.T) {
	t.Parallel()

	db := helperNewDatabase(t)
	helperFillDatabase(t, db, 300)

	t.Run("Limit", func(t *testing.T) {
		for _, limit := range []int{1, 10, 15, 100, 125, selectDefaultBatchLimit + 1, 200, 222, 300} {
			t.Run(strconv.Itoa(limit), func(t *testing.T) {
				events := helperSelectEventsN(t, db, limit)
				t.Logf("fetched %d event(s)", len(events))
				require.Len(t, events, limit)
			})
		}
	})
	t.Run("All", func(t *testing.T) {
		events := helperSelectEventsN(t, db, 0)
		require.Len(t, events, 300)
	})
	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var failed bool
		for ev, err := range db.SelectEvents(ctx, nil) {
			require.Nil(t, ev)
			require.ErrorIs(t, err, context.Canceled)
			failed = true
		}
		require.True(t, failed)
	})
}

func TestIteratorCallbackUsesDatabase(t *testing.T) {
	t.Parallel()

	db := helperNewDatabase(t)
	helperFillDatabase(t, db, selectDefaultBatchLimit+5)

	var visited int
	for ev, err := range db.SelectEvents(context.Background(), nil) {
		require.NoError(t, err)
		require.NoError(t, db.AddEventRelay(context.Background(), ev.ID, "wss://relay.example"))
		visited++
	}
	require.Equal(t, selectDefaultBatchLimit+5, visited)

	var count int
	require.NoError(t, db.Get(&count, `select count(*) from event_relays`))
	require.Equal(t, visited, count)
}
