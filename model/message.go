// SPDX-License-Identifier: ice License 1.0

package model

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrParseMessage   = errors.New("parse message")
)

func ParseMessage(message []byte) (e Envelope, err error) {
	firstComma := bytes.IndexByte(message, ',')
	if firstComma == -1 {
		return nil, ErrUnknownMessage
	}
	label := message[:firstComma]

	switch {
	case bytes.Contains(label, []byte(EnvelopeTypeEvent)):
		var eventEnvelope EventEnvelope
		if err = eventEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal event envelope")
		}
		e = &eventEnvelope
	case bytes.Contains(label, []byte(EnvelopeTypeReq)):
		var reqEnvelope ReqEnvelope
		if err = reqEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal req envelope")
		}
		e = &reqEnvelope
	case bytes.Contains(label, []byte(EnvelopeTypeClosed)):
		e = nostr.ParseMessage(message)
	case bytes.Contains(label, []byte(EnvelopeTypeClose)):
		var closeEnvelope CloseEnvelope
		if err = closeEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal close envelope")
		}
		e = &closeEnvelope
	default:
		// EOSE, NOTICE and OK are decoded by go-nostr.
		e = nostr.ParseMessage(message)
	}

	if e == nil {
		err = ErrParseMessage
	}

	return e, err
}
