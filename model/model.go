// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    struct {
		nostr.Filter
	}
	Filters      []Filter
	Subscription struct {
		Name    string
		Filters Filters
	}
	EventReference interface {
		Filter() Filter
	}
	ReplaceableEventReference struct {
		PubKey string
		DTag   string
		Kind   int
	}
	PlainEventReference struct {
		EventIDs []string
	}
)

var (
	ErrInvalidID        = errors.New("event id does not match its content")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrWrongEventParams = errors.New("wrong event params")
	ErrDuplicate        = errors.New("duplicate")
	ErrSuperseded       = errors.New("superseded by a newer replaceable event")
)

const (
	KindTextNote     Kind = nostr.KindTextNote
	KindBookmarkList Kind = 10001
)

const (
	TagMarkerReply   = "reply"
	TagMarkerRoot    = "root"
	TagMarkerMention = "mention"
)

const (
	maxKind = 65535
)
