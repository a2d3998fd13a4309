// SPDX-License-Identifier: ice License 1.0

package model

import (
	"testing"
	"time"

	"github.com/jamiealquiza/tachymeter"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"
)

func helperNewSignedEvent(t interface {
	Helper()
	require.TestingT
}, privkey string) *Event {
	t.Helper()

	ev := &Event{Event: nostr.Event{
		CreatedAt: 1700000000,
		Kind:      nostr.KindTextNote,
		Tags:      Tags{{"e", "5c83da77af1dec6d7289834998ad7aafbd9e2191396d75ec3cc27f5a77226f36", "", TagMarkerRoot}, {"p", "f7234bd4c1394dda46d09f35bd384dd30cc552ad5541990f98844fb06676e9ca"}},
		Content:   "signed content that will be tampered with",
	}}
	require.NoError(t, ev.Sign(privkey))

	return ev
}

func TestEventSignValidate(t *testing.T) {
	t.Parallel()

	privkey := nostr.GeneratePrivateKey()
	pubkey, err := nostr.GetPublicKey(privkey)
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		ev := helperNewSignedEvent(t, privkey)
		require.Equal(t, pubkey, ev.PubKey)
		require.Len(t, ev.ID, 64)
		require.Len(t, ev.Sig, 128)
		require.NoError(t, ev.CheckIntegrity())
		require.True(t, ev.IsValid())
	})
	t.Run("Deterministic", func(t *testing.T) {
		ev1 := helperNewSignedEvent(t, privkey)
		ev2 := helperNewSignedEvent(t, privkey)
		require.Equal(t, ev1.ID, ev2.ID)
		require.Equal(t, ev1.ComputeID(), ev2.ComputeID())
	})
	t.Run("DefaultsCreatedAt", func(t *testing.T) {
		ev := &Event{Event: nostr.Event{Kind: nostr.KindTextNote, Content: "now"}}
		require.NoError(t, ev.Sign(privkey))
		require.NotZero(t, ev.CreatedAt)
		require.NotNil(t, ev.Tags)
		require.True(t, ev.IsValid())
	})
	t.Run("TamperedContent", func(t *testing.T) {
		for range 20 {
			ev := helperNewSignedEvent(t, privkey)
			content := []byte(ev.Content)
			idx := rand.Intn(len(content))
			content[idx] ^= 0x01
			ev.Content = string(content)
			require.ErrorIs(t, ev.CheckIntegrity(), ErrInvalidID)
			require.False(t, ev.IsValid())
		}
	})
	t.Run("TamperedTags", func(t *testing.T) {
		ev := helperNewSignedEvent(t, privkey)
		value := []byte(ev.Tags[1][1])
		value[rand.Intn(len(value))] ^= 0x01
		ev.Tags[1][1] = string(value)
		require.False(t, ev.IsValid())

		ev = helperNewSignedEvent(t, privkey)
		ev.Tags = append(ev.Tags, Tag{"t", "extra"})
		require.False(t, ev.IsValid())
	})
	t.Run("TamperedCreatedAt", func(t *testing.T) {
		ev := helperNewSignedEvent(t, privkey)
		ev.CreatedAt++
		require.ErrorIs(t, ev.CheckIntegrity(), ErrInvalidID)
	})
	t.Run("TamperedKind", func(t *testing.T) {
		ev := helperNewSignedEvent(t, privkey)
		ev.Kind = KindBookmarkList
		require.ErrorIs(t, ev.CheckIntegrity(), ErrInvalidID)
	})
	t.Run("RecomputedIDWithForeignSignature", func(t *testing.T) {
		ev := helperNewSignedEvent(t, privkey)
		ev.Content = "forged"
		ev.ID = ev.ComputeID()
		require.ErrorIs(t, ev.CheckIntegrity(), ErrInvalidSignature)
	})
	t.Run("Malformed", func(t *testing.T) {
		var empty *Event
		require.False(t, empty.IsValid())
		require.False(t, (&Event{}).IsValid())

		ev := helperNewSignedEvent(t, privkey)
		ev.Sig = ev.Sig[:10]
		require.ErrorIs(t, ev.CheckIntegrity(), ErrInvalidSignature)

		ev = helperNewSignedEvent(t, privkey)
		ev.Sig = "not hex at all"
		require.False(t, ev.IsValid())

		ev = helperNewSignedEvent(t, privkey)
		ev.PubKey = "zz"
		ev.ID = ev.ComputeID()
		require.False(t, ev.IsValid())
	})
}

func TestEventIsReplaceable(t *testing.T) {
	t.Parallel()

	for kind, expected := range map[int]bool{
		nostr.KindProfileMetadata: true,
		nostr.KindTextNote:        false,
		nostr.KindFollowList:      true,
		KindBookmarkList:          true,
		19999:                     true,
		20000:                     false,
		30023:                     false,
	} {
		ev := &Event{Event: nostr.Event{Kind: kind}}
		require.Equalf(t, expected, ev.IsReplaceable(), "kind %v", kind)
	}
}

func BenchmarkEventCheckIntegrity(b *testing.B) {
	privkey := nostr.GeneratePrivateKey()
	ev := helperNewSignedEvent(b, privkey)
	meter := tachymeter.New(&tachymeter.Config{Size: b.N})
	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		start := time.Now()
		if !ev.IsValid() {
			b.Fatal("event must be valid")
		}
		meter.AddTime(time.Since(start))
	}
	b.StopTimer()
	b.Log(meter.Calc())
}
