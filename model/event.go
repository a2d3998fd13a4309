// SPDX-License-Identifier: ice License 1.0

package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	Event struct {
		nostr.Event
	}
)

func (e *Event) Sign(privateKey string) error {
	if e.Tags == nil {
		e.Tags = make(Tags, 0)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = nostr.Now()
	}

	return errors.Wrap(e.Event.Sign(privateKey), "failed to sign event")
}

// ComputeID returns the hex sha256 of the canonical [0,pubkey,created_at,kind,tags,content] form.
func (e *Event) ComputeID() string {
	hash := sha256.Sum256(e.Serialize())

	return hex.EncodeToString(hash[:])
}

func (e *Event) CheckIntegrity() error {
	if e == nil {
		return errors.Wrap(ErrInvalidID, "nil event")
	}
	if id := e.ComputeID(); id != e.ID {
		return errors.Wrapf(ErrInvalidID, "expected %v, got %q", id, e.ID)
	}
	ok, err := e.CheckSignature()
	if err != nil {
		return errors.Wrapf(ErrInvalidSignature, "%v", err)
	}
	if !ok {
		return errors.Wrapf(ErrInvalidSignature, "event %v", e.ID)
	}

	return nil
}

func (e *Event) IsValid() bool {
	return e.CheckIntegrity() == nil
}

func (e *Event) IsReplaceable() bool {
	return IsReplaceableKind(e.Kind)
}

func (e *Event) GetTag(tagName string) Tag {
	for _, tag := range e.Tags {
		if tag.Key() == tagName {
			return tag
		}
	}

	return nil
}

func IsReplaceableKind(kind Kind) bool {
	return kind == nostr.KindProfileMetadata || kind == nostr.KindFollowList || (10000 <= kind && kind < 20000)
}
