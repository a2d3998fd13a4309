// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/relaypool/model"
)

const testDeadline = 30 * time.Second

func helperNewEvent(t *testing.T, kind model.Kind, createdAt model.Timestamp, tags ...model.Tag) *model.Event {
	t.Helper()

	if tags == nil {
		tags = model.Tags{}
	}

	return &model.Event{
		Event: nostr.Event{
			ID:        "id" + uuid.NewString(),
			PubKey:    "pubkey" + uuid.NewString(),
			CreatedAt: createdAt,
			Kind:      kind,
			Tags:      tags,
			Content:   "content" + uuid.NewString(),
			Sig:       "sig" + uuid.NewString(),
		},
	}
}

func helperGetStoredEventsAll(t *testing.T, db *DB, ctx context.Context, subscription *model.Subscription) []*model.Event {
	t.Helper()

	var events []*model.Event
	for ev, err := range db.SelectEvents(ctx, subscription) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	return events
}

func helperKindSubscription(kinds ...model.Kind) *model.Subscription {
	filter := model.Filter{}
	filter.Kinds = kinds

	return &model.Subscription{Filters: model.Filters{filter}}
}

func TestAcceptEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	t.Run("Regular", func(t *testing.T) {
		db := helperNewDatabase(t)
		first := helperNewEvent(t, model.KindTextNote, 100)
		second := helperNewEvent(t, model.KindTextNote, 200, model.Tag{"t", "go"})
		require.NoError(t, db.AcceptEvent(ctx, first))
		require.NoError(t, db.AcceptEvent(ctx, second))

		stored := helperGetStoredEventsAll(t, db, ctx, helperKindSubscription(model.KindTextNote))
		require.Len(t, stored, 2)
		require.Contains(t, stored, first)
		require.Contains(t, stored, second)
	})
	t.Run("Duplicate", func(t *testing.T) {
		db := helperNewDatabase(t)
		ev := helperNewEvent(t, model.KindTextNote, 100)
		require.NoError(t, db.AcceptEvent(ctx, ev))
		require.ErrorIs(t, db.AcceptEvent(ctx, ev), model.ErrDuplicate)

		count, err := db.CountEvents(ctx, nil)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)
	})
	t.Run("Ephemeral", func(t *testing.T) {
		db := helperNewDatabase(t)
		require.NoError(t, db.AcceptEvent(ctx, helperNewEvent(t, nostr.KindClientAuthentication, 100)))

		count, err := db.CountEvents(ctx, nil)
		require.NoError(t, err)
		require.Zero(t, count)
	})
}

func TestAcceptReplaceableEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	db := helperNewDatabase(t)
	older := helperNewEvent(t, model.KindBookmarkList, 100, model.Tag{"e", "a"})
	newer := helperNewEvent(t, model.KindBookmarkList, 200, model.Tag{"e", "b"})
	newer.PubKey = older.PubKey
	tie := helperNewEvent(t, model.KindBookmarkList, 200, model.Tag{"e", "c"})
	tie.PubKey = older.PubKey

	require.NoError(t, db.AcceptEvent(ctx, older))
	require.NoError(t, db.AcceptEvent(ctx, newer))
	require.ErrorIs(t, db.AcceptEvent(ctx, older), model.ErrSuperseded)
	require.ErrorIs(t, db.AcceptEvent(ctx, tie), model.ErrSuperseded)

	stored := helperGetStoredEventsAll(t, db, ctx, helperKindSubscription(model.KindBookmarkList))
	require.Len(t, stored, 1)
	require.Equal(t, newer, stored[0])

	latest, err := db.LatestList(ctx, older.PubKey, model.KindBookmarkList)
	require.NoError(t, err)
	require.Equal(t, newer, latest)

	var tagRows int
	require.NoError(t, db.GetContext(ctx, &tagRows, `select count(*) from event_tags where event_tag_value = 'a'`))
	require.Zero(t, tagRows)

	t.Run("OtherAuthor", func(t *testing.T) {
		other := helperNewEvent(t, model.KindBookmarkList, 50)
		require.NoError(t, db.AcceptEvent(ctx, other))

		latest, err := db.LatestList(ctx, other.PubKey, model.KindBookmarkList)
		require.NoError(t, err)
		require.Equal(t, other, latest)
	})
	t.Run("Missing", func(t *testing.T) {
		latest, err := db.LatestList(ctx, "nobody", model.KindBookmarkList)
		require.NoError(t, err)
		require.Nil(t, latest)
	})
}

func TestEventRelays(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	db := helperNewDatabase(t)
	ev := helperNewEvent(t, model.KindTextNote, 100)
	require.NoError(t, db.AcceptEvent(ctx, ev))
	require.NoError(t, db.AddEventRelay(ctx, ev.ID, "wss://b.example"))
	require.NoError(t, db.AddEventRelay(ctx, ev.ID, "wss://a.example"))
	require.NoError(t, db.AddEventRelay(ctx, ev.ID, "wss://b.example"))

	relays, err := db.EventRelays(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"wss://b.example", "wss://a.example"}, relays)

	relays, err = db.EventRelays(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, relays)
}

func TestCountEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	db := helperNewDatabase(t)
	for i := range 5 {
		require.NoError(t, db.AcceptEvent(ctx, helperNewEvent(t, model.KindTextNote, model.Timestamp(100+i))))
	}
	require.NoError(t, db.AcceptEvent(ctx, helperNewEvent(t, 7, 100)))

	count, err := db.CountEvents(ctx, helperKindSubscription(model.KindTextNote))
	require.NoError(t, err)
	require.EqualValues(t, 5, count)

	count, err = db.CountEvents(ctx, &model.Subscription{})
	require.NoError(t, err)
	require.EqualValues(t, 6, count)

	since, until := model.Timestamp(200), model.Timestamp(100)
	filter := model.Filter{}
	filter.Since, filter.Until = &since, &until
	_, err = db.CountEvents(ctx, &model.Subscription{Filters: model.Filters{filter}})
	require.True(t, errors.Is(err, ErrWhereBuilderInvalidTimeRange))
}

func TestSelectEventsStopEarly(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	db := helperNewDatabase(t)
	for i := range 3 {
		require.NoError(t, db.AcceptEvent(ctx, helperNewEvent(t, model.KindTextNote, model.Timestamp(100+i))))
	}

	var seen int
	for ev, err := range db.SelectEvents(ctx, nil) {
		require.NoError(t, err)
		require.NotNil(t, ev)
		seen++

		break
	}
	require.Equal(t, 1, seen)
}

func TestGlobalDatabase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	db := MustInit()
	require.Same(t, db, MustInit())

	ev := helperNewEvent(t, model.KindTextNote, 100)
	require.NoError(t, AcceptEvent(ctx, ev))

	var found bool
	for stored, err := range GetStoredEvents(ctx, &model.Subscription{Filters: model.Filters{{Filter: nostr.Filter{IDs: []string{ev.ID}}}}}) {
		require.NoError(t, err)
		require.Equal(t, ev, stored)
		found = true
	}
	require.True(t, found)
}
