// SPDX-License-Identifier: ice License 1.0

package model

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

// Validate checks the structure of an event before it is signed and published.
// Integrity (id and signature) is checked separately by CheckIntegrity.
func (e *Event) Validate() error {
	if e.Kind < 0 || e.Kind > maxKind {
		return errors.Wrapf(ErrWrongEventParams, "wrong kind value %v", e.Kind)
	}
	e.normalizeTags()
	switch {
	case e.Kind == nostr.KindTextNote:
		return validateKindTextNoteEvent(e)
	case e.Kind == nostr.KindFollowList:
		for _, tag := range e.Tags {
			if tag.Key() == "p" && tag.Value() == "" {
				return errors.Wrapf(ErrWrongEventParams, "nip-02 params, no required pubkey %+v", e)
			}
		}
	case e.Kind == nostr.KindReaction:
		return validateKindReactionEvent(e)
	case IsReplaceableKind(e.Kind) && e.Kind >= 10000:
		return validateListEvent(e)
	}

	return nil
}

func validateKindTextNoteEvent(e *Event) error {
	for _, tag := range e.Tags.GetAll([]string{"e"}) {
		if len(tag) < 2 || tag.Value() == "" {
			return errors.Wrapf(ErrWrongEventParams, "nip-10: no tag required param: %+v", e)
		}
		if len(tag) >= 4 && tag[3] != "" && tag[3] != TagMarkerRoot && tag[3] != TagMarkerReply && tag[3] != TagMarkerMention {
			return errors.Wrapf(ErrWrongEventParams, "nip-10: wrong tag marker param: %+v", e)
		}
	}
	for _, tag := range e.Tags.GetAll([]string{"p"}) {
		if len(tag) < 2 || tag.Value() == "" {
			return errors.Wrapf(ErrWrongEventParams, "nip-10: p tag doesn't contain any pubkey: %+v", e)
		}
	}

	return nil
}

func validateKindReactionEvent(e *Event) error {
	if eTag := e.Tags.GetLast([]string{"e"}); eTag == nil || eTag.Value() == "" {
		return errors.Wrapf(ErrWrongEventParams, "nip-25, wrong e tag value: %+v", e)
	}
	if pTag := e.Tags.GetLast([]string{"p"}); pTag == nil || pTag.Value() == "" {
		return errors.Wrapf(ErrWrongEventParams, "nip-25, wrong p tag value: %+v", e)
	}
	if aTag := e.Tags.GetFirst([]string{"a"}); aTag != nil && (aTag.Value() == "" || len(strings.Split(aTag.Value(), ":")) != 3) {
		return errors.Wrapf(ErrWrongEventParams, "nip-25, wrong a tag value: %+v", e)
	}

	return nil
}

func validateListEvent(e *Event) error {
	for _, tag := range e.Tags {
		switch tag.Key() {
		case "e", "p":
			if len(tag) < 2 || tag.Value() == "" {
				return errors.Wrapf(ErrWrongEventParams, "nip-51: list entry without value: %+v", e)
			}
		}
	}

	return nil
}

func (e *Event) normalizeTags() {
	for _, tag := range e.Tags {
		switch tag.Key() {
		case "t":
			if len(tag) > 1 {
				tag[1] = strings.ToLower(tag.Value()) // NIP-24.
			}
		}
	}
}
