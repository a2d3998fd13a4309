// SPDX-License-Identifier: ice License 1.0

package lists

import (
	"context"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/relaypool/model"
)

// memoryRelay serves the latest published list back as the source.
type memoryRelay struct {
	events []*model.Event
	mx     sync.Mutex
}

func (r *memoryRelay) LatestList(_ context.Context, author string, kind model.Kind) (*model.Event, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	var latest *model.Event
	for _, ev := range r.events {
		if ev.PubKey == author && ev.Kind == kind {
			latest = model.Merge(latest, ev)
		}
	}

	return latest, nil
}

func (r *memoryRelay) Publish(_ context.Context, event *model.Event) (*model.Event, error) {
	if err := event.CheckIntegrity(); err != nil {
		return nil, err
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	r.events = append(r.events, event)

	return event, nil
}

func (r *memoryRelay) Published() []*model.Event {
	r.mx.Lock()
	defer r.mx.Unlock()

	return append([]*model.Event(nil), r.events...)
}

// staleSource always answers with the same snapshot.
type staleSource struct {
	snapshot *model.Event
}

func (s *staleSource) LatestList(context.Context, string, model.Kind) (*model.Event, error) {
	return s.snapshot, nil
}

func helperMutator(t *testing.T, source Source, publisher Publisher, privateKey string, now model.Timestamp) *Mutator {
	t.Helper()

	m := NewMutator(source, publisher, privateKey, model.KindBookmarkList)
	m.now = func() model.Timestamp { return now }

	return m
}

func helperList(t *testing.T, privateKey string, createdAt model.Timestamp, ids ...string) *model.Event {
	t.Helper()

	ev := &model.Event{Event: nostr.Event{Kind: model.KindBookmarkList, CreatedAt: createdAt, Tags: rebuild(nil, ids)}}
	require.NoError(t, ev.Sign(privateKey))

	return ev
}

func TestReplaceableListSupersession(t *testing.T) {
	t.Parallel()

	privateKey := nostr.GeneratePrivateKey()
	l1 := helperList(t, privateKey, 100, "a", "b")
	l2 := helperList(t, privateKey, 200, "a")
	m := helperMutator(t, &staleSource{}, &memoryRelay{}, privateKey, 300)

	for _, order := range [][]*model.Event{{l1, l2}, {l2, l1}} {
		bookmarks, err := m.Decode(Latest(order...))
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, bookmarks.Members())
	}

	relay := &memoryRelay{events: []*model.Event{l2, l1}}
	current, err := helperMutator(t, relay, relay, privateKey, 300).Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, current.Members())
}

func TestBookmarkAddRemoveRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	relay := new(memoryRelay)
	m := helperMutator(t, relay, relay, nostr.GeneratePrivateKey(), 1000)

	added, err := m.Add(ctx, "e1", true)
	require.NoError(t, err)
	require.NotNil(t, added)
	require.Equal(t, model.Tags{{"e", "e1"}}, added.Tags)
	require.EqualValues(t, 1000, added.CreatedAt)
	require.Equal(t, m.PublicKey(), added.PubKey)

	removed, err := m.Remove(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, removed)
	require.Greater(t, removed.CreatedAt, added.CreatedAt)
	require.True(t, removed.IsValid())

	bookmarks, err := m.Decode(removed)
	require.NoError(t, err)
	require.NotContains(t, bookmarks.Members(), "e1")

	current, err := m.Current(ctx)
	require.NoError(t, err)
	require.Empty(t, current.Members())
	require.Len(t, relay.Published(), 2)
}

func TestBookmarkNoOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	relay := new(memoryRelay)
	m := helperMutator(t, relay, relay, nostr.GeneratePrivateKey(), 1000)

	ev, err := m.Remove(ctx, "absent")
	require.NoError(t, err)
	require.Nil(t, ev)

	_, err = m.Add(ctx, "e1", true)
	require.NoError(t, err)
	ev, err = m.Add(ctx, "e1", true)
	require.NoError(t, err)
	require.Nil(t, ev)
	ev, err = m.Add(ctx, "e1", false)
	require.NoError(t, err)
	require.Nil(t, ev)
	require.Len(t, relay.Published(), 1)
}

func TestBookmarkPrivateEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	privateKey := nostr.GeneratePrivateKey()
	initial := &model.Event{Event: nostr.Event{Kind: model.KindBookmarkList, CreatedAt: 5000, Tags: model.Tags{{"t", "golang"}, {"e", "pub1"}}}}
	require.NoError(t, initial.Sign(privateKey))
	relay := &memoryRelay{events: []*model.Event{initial}}
	m := helperMutator(t, relay, relay, privateKey, 1000)

	secret, err := m.Add(ctx, "priv1", false)
	require.NoError(t, err)
	require.NotEmpty(t, secret.Content)
	require.NotContains(t, secret.Content, "priv1")
	require.Equal(t, model.Tags{{"t", "golang"}, {"e", "pub1"}}, secret.Tags)
	require.EqualValues(t, 5001, secret.CreatedAt)

	bookmarks, err := m.Decode(secret)
	require.NoError(t, err)
	require.Equal(t, []string{"pub1"}, bookmarks.Public)
	require.Equal(t, []string{"priv1"}, bookmarks.Private)
	require.Equal(t, []string{"pub1", "priv1"}, bookmarks.Members())
	require.Equal(t, []string{"pub1", "priv1"}, bookmarks.Filters()[0].IDs)

	stranger := helperMutator(t, relay, relay, nostr.GeneratePrivateKey(), 1000)
	seen, err := stranger.Decode(secret)
	require.NoError(t, err)
	require.Equal(t, []string{"pub1"}, seen.Members())

	second, err := m.Add(ctx, "priv2", false)
	require.NoError(t, err)
	bookmarks, err = m.Decode(second)
	require.NoError(t, err)
	require.Equal(t, []string{"priv1", "priv2"}, bookmarks.Private)

	cleared, err := m.Remove(ctx, "priv1")
	require.NoError(t, err)
	bookmarks, err = m.Decode(cleared)
	require.NoError(t, err)
	require.Equal(t, []string{"priv2"}, bookmarks.Private)
	require.Equal(t, []string{"pub1"}, bookmarks.Public)
}

func TestBookmarkDecodeErrors(t *testing.T) {
	t.Parallel()

	privateKey := nostr.GeneratePrivateKey()
	m := helperMutator(t, &staleSource{}, &memoryRelay{}, privateKey, 1000)

	_, err := m.Decode(&model.Event{Event: nostr.Event{Kind: nostr.KindTextNote}})
	require.ErrorIs(t, err, ErrNotList)

	broken := &model.Event{Event: nostr.Event{Kind: model.KindBookmarkList, Content: "not encrypted"}}
	require.NoError(t, broken.Sign(privateKey))
	_, err = m.Decode(broken)
	require.ErrorIs(t, err, ErrUndecryptable)

	empty, err := m.Decode(nil)
	require.NoError(t, err)
	require.Empty(t, empty.Members())
	require.Nil(t, empty.Filters())

	_, err = helperMutator(t, &staleSource{snapshot: broken}, &memoryRelay{}, privateKey, 1000).Add(context.Background(), "x", true)
	require.ErrorIs(t, err, ErrUndecryptable)
}

// Mutations are not serialized: two writers reading the same snapshot race and one update is lost.
func TestBookmarkConcurrentMutationsRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	privateKey := nostr.GeneratePrivateKey()
	snapshot := helperList(t, privateKey, 100, "base")
	relay := new(memoryRelay)
	first := helperMutator(t, &staleSource{snapshot: snapshot}, relay, privateKey, 1000)
	second := helperMutator(t, &staleSource{snapshot: snapshot}, relay, privateKey, 1000)

	var wg sync.WaitGroup
	for mutator, id := range map[*Mutator]string{first: "x", second: "y"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mutator.Add(ctx, id, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	published := relay.Published()
	require.Len(t, published, 2)
	require.Equal(t, published[0].CreatedAt, published[1].CreatedAt)
	winner, err := first.Decode(Latest(published...))
	require.NoError(t, err)
	require.Len(t, winner.Members(), 2)
	require.Contains(t, winner.Members(), "base")
	require.NotEqual(t, winner.Contains("x"), winner.Contains("y"))
}
