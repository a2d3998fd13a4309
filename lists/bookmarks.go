// SPDX-License-Identifier: ice License 1.0

package lists

import (
	"slices"

	"github.com/ice-blockchain/relaypool/model"
)

// Members returns public entries followed by private ones, without duplicates.
func (b *Bookmarks) Members() []string {
	members := make([]string, 0, len(b.Public)+len(b.Private))
	for _, id := range b.Public {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	for _, id := range b.Private {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}

	return members
}

func (b *Bookmarks) Contains(id string) bool {
	return slices.Contains(b.Public, id) || slices.Contains(b.Private, id)
}

func (b *Bookmarks) remove(id string) {
	b.Public = slices.DeleteFunc(b.Public, func(member string) bool { return member == id })
	b.Private = slices.DeleteFunc(b.Private, func(member string) bool { return member == id })
}

// Filters builds the query fetching the bookmarked events themselves.
func (b *Bookmarks) Filters() model.Filters {
	members := b.Members()
	if len(members) == 0 {
		return nil
	}
	ref := model.PlainEventReference{EventIDs: members}

	return model.Filters{ref.Filter()}
}

// Latest folds candidate list events with latest-wins semantics.
func Latest(events ...*model.Event) *model.Event {
	return model.Latest(events...)
}
