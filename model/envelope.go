// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

type (
	EnvelopeType string

	Envelope interface {
		nostr.Envelope
	}

	EventEnvelope struct {
		SubscriptionID *string
		Event
	}

	ReqEnvelope struct {
		SubscriptionID string
		Filters
	}

	CloseEnvelope string
)

const (
	EnvelopeTypeEvent  EnvelopeType = "EVENT"
	EnvelopeTypeReq    EnvelopeType = "REQ"
	EnvelopeTypeNotice EnvelopeType = "NOTICE"
	EnvelopeTypeEOSE   EnvelopeType = "EOSE"
	EnvelopeTypeOK     EnvelopeType = "OK"
	EnvelopeTypeAuth   EnvelopeType = "AUTH"
	EnvelopeTypeClosed EnvelopeType = "CLOSED"
	EnvelopeTypeClose  EnvelopeType = "CLOSE"
)

func (*EventEnvelope) Label() string {
	return string(EnvelopeTypeEvent)
}

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	switch len(arr) {
	case 2:
		return errors.Wrap(easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event.Event), "failed to decode EVENT envelope")
	case 3:
		subID := arr[1].Str
		v.SubscriptionID = &subID

		return errors.Wrap(easyjson.Unmarshal([]byte(arr[2].Raw), &v.Event.Event), "failed to decode EVENT envelope")
	default:
		return errors.Errorf("failed to decode EVENT envelope: unexpected length %v", len(arr))
	}
}

func (v *EventEnvelope) MarshalJSON() ([]byte, error) {
	env := nostr.EventEnvelope{SubscriptionID: v.SubscriptionID, Event: v.Event.Event}

	return env.MarshalJSON()
}

func (v *EventEnvelope) String() string {
	data, _ := v.MarshalJSON()

	return string(data)
}

func (*ReqEnvelope) Label() string {
	return string(EnvelopeTypeReq)
}

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return errors.New("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := easyjson.Unmarshal([]byte(arr[i].Raw), &v.Filters[i-2].Filter); err != nil {
			return errors.Wrapf(err, "on filter %d", i-2)
		}
	}

	return nil
}

func (v *ReqEnvelope) MarshalJSON() ([]byte, error) {
	data := []any{EnvelopeTypeReq, v.SubscriptionID}
	for idx := range v.Filters {
		raw, err := easyjson.Marshal(v.Filters[idx].Filter)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal filter %d", idx)
		}
		data = append(data, json.RawMessage(raw))
	}

	return json.Marshal(data)
}

func (v *ReqEnvelope) String() string {
	data, _ := v.MarshalJSON()

	return string(data)
}

func (*CloseEnvelope) Label() string {
	return string(EnvelopeTypeClose)
}

func (v *CloseEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 {
		return errors.New("failed to decode CLOSE envelope: missing subscription id")
	}
	*v = CloseEnvelope(arr[1].Str)

	return nil
}

func (v *CloseEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{EnvelopeTypeClose, string(*v)})
}

func (v *CloseEnvelope) String() string {
	data, _ := v.MarshalJSON()

	return string(data)
}
