// SPDX-License-Identifier: ice License 1.0

package lists_test

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/relaypool/database/query"
	"github.com/ice-blockchain/relaypool/lists"
	"github.com/ice-blockchain/relaypool/model"
	"github.com/ice-blockchain/relaypool/pool"
	"github.com/ice-blockchain/relaypool/pool/fixture"
)

const testRelay = "wss://relay.example.com"

func helperPoolWithStore(t *testing.T, privateKey string) (*pool.Pool, *query.DB, *fixture.Network) {
	t.Helper()

	db, err := query.Open("")
	require.NoError(t, err)
	network := fixture.NewNetwork()
	p := pool.New(&pool.Config{}, func(url string) pool.Transport { return network.Dial(url) },
		pool.WithPrivateKey(privateKey), pool.WithStore(db))
	t.Cleanup(func() {
		require.NoError(t, p.Close(context.Background()))
		require.NoError(t, db.Close())
	})
	require.NoError(t, p.AddRelay(context.Background(), testRelay))

	return p, db, network
}

func TestBookmarksThroughPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	privateKey := nostr.GeneratePrivateKey()
	p, db, network := helperPoolWithStore(t, privateKey)
	m := lists.NewMutator(db, p, privateKey, model.KindBookmarkList)

	_, err := m.Add(ctx, "e1", true)
	require.NoError(t, err)
	_, err = m.Add(ctx, "e2", false)
	require.NoError(t, err)

	current, err := m.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"e1"}, current.Public)
	require.Equal(t, []string{"e2"}, current.Private)
	require.Equal(t, 2, network.Transport(testRelay).Count("EVENT"))

	count, err := db.CountEvents(ctx, &model.Subscription{Filters: model.Filters{
		{Filter: nostr.Filter{Kinds: []int{model.KindBookmarkList}, Authors: []string{m.PublicKey()}}},
	}})
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	t.Run("RemoteUpdate", func(t *testing.T) {
		latest, err := db.LatestList(ctx, m.PublicKey(), model.KindBookmarkList)
		require.NoError(t, err)
		remote := &model.Event{Event: nostr.Event{
			Kind:      model.KindBookmarkList,
			CreatedAt: latest.CreatedAt + 10,
			Tags:      model.Tags{{"e", "e3"}},
		}}
		require.NoError(t, remote.Sign(privateKey))
		require.True(t, p.HandleEvent(ctx, testRelay, remote))

		current, err := m.Current(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"e3"}, current.Members())

		relays, err := db.EventRelays(ctx, remote.ID)
		require.NoError(t, err)
		require.Equal(t, []string{testRelay}, relays)
	})
}

func TestMutatorRefusesForeignPublisher(t *testing.T) {
	t.Parallel()

	p, db, _ := helperPoolWithStore(t, nostr.GeneratePrivateKey())
	require.Panics(t, func() {
		lists.NewMutator(db, p, nostr.GeneratePrivateKey(), model.KindBookmarkList)
	})

	t.Run("KeylessPublisher", func(t *testing.T) {
		keyless, keylessDB, _ := helperPoolWithStore(t, "")
		require.Empty(t, keyless.PublicKey())
		require.NotPanics(t, func() {
			lists.NewMutator(keylessDB, keyless, nostr.GeneratePrivateKey(), model.KindBookmarkList)
		})
	})
}
