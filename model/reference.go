// SPDX-License-Identifier: ice License 1.0

package model

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

func ParseEventReference(tags Tags) ([]EventReference, error) {
	plainEvents := make([]string, 0, len(tags))
	refs := []EventReference{}
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == "e" {
			plainEvents = append(plainEvents, tag.Value())
		} else if len(tag) >= 2 && tag[0] == "a" {
			val := strings.Split(tag.Value(), ":")
			if len(val) != 3 {
				return nil, errors.Errorf("failed to parse replaceable event reference, len != 3: %v", val)
			}
			kind, err := strconv.ParseInt(val[0], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse replaceable event reference %v", val)
			}
			refs = append(refs, &ReplaceableEventReference{
				Kind:   int(kind),
				PubKey: val[1],
				DTag:   val[2],
			})
		}
	}
	if len(plainEvents) > 0 {
		refs = append(refs, &PlainEventReference{EventIDs: plainEvents})
	}

	return refs, nil
}

func (e *PlainEventReference) Filter() Filter {
	return Filter{Filter: nostr.Filter{
		IDs: e.EventIDs,
	}}
}

func (e *ReplaceableEventReference) Filter() Filter {
	f := nostr.Filter{
		Kinds:   []int{e.Kind},
		Authors: []string{e.PubKey},
	}
	if e.DTag != "" {
		f.Tags = nostr.TagMap{"d": {e.DTag}}
	}

	return Filter{Filter: f}
}

// ReplyTags builds the tags of a reply to parent: the parent's tags are carried over and
// the parent is referenced as thread root when it has no e tags of its own, as reply otherwise.
func ReplyTags(parent *Event) Tags {
	if parent == nil {
		return Tags{}
	}
	tags := make(Tags, 0, len(parent.Tags)+1)
	for _, tag := range parent.Tags {
		tags = append(tags, slices.Clone(tag))
	}
	marker := TagMarkerReply
	if len(parent.Tags.GetAll([]string{"e"})) == 0 {
		marker = TagMarkerRoot
	}

	return append(tags, Tag{"e", parent.ID, "", marker})
}
