// SPDX-License-Identifier: ice License 1.0

package model

// Merge resolves two copies of the same replaceable (author, kind) pair: the strictly newer
// created_at wins, ties keep old.
func Merge(old, fresh *Event) *Event {
	switch {
	case old == nil:
		return fresh
	case fresh == nil:
		return old
	case fresh.CreatedAt > old.CreatedAt:
		return fresh
	default:
		return old
	}
}

// Latest folds Merge over events, ignoring nils.
func Latest(events ...*Event) (latest *Event) {
	for _, ev := range events {
		latest = Merge(latest, ev)
	}

	return latest
}

// SameReplaceable reports whether both events address the same replaceable slot.
func SameReplaceable(a, b *Event) bool {
	return a != nil && b != nil && a.PubKey == b.PubKey && a.Kind == b.Kind && IsReplaceableKind(a.Kind)
}
