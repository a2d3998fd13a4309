// SPDX-License-Identifier: ice License 1.0

package pool

import (
	"io"

	"github.com/rcrowley/go-metrics"
)

type (
	statistics struct {
		metrics     metrics.Registry
		fanOutSizes metrics.Histogram
		relaysInUse metrics.Gauge
	}
)

const (
	eventsReceived   = "events/received"
	eventsDelivered  = "events/delivered"
	eventsDuplicated = "events/duplicated"
	eventsInvalid    = "events/invalid"
	eventsSuperseded = "events/superseded"
	eventsPublished  = "events/published"
	publishFanOut    = "publish/fanOut"
	framesSent       = "frames/sent"
	framesFailed     = "frames/failed"
	framesMalformed  = "frames/malformed"
	relayNotices     = "relay/notices"
	relayEOSE        = "relay/eose"
	relayRejected    = "relay/rejected"
	relaysConnected  = "relays/connected"
)

// newStatistics shares metrics already present in the registry, so pools reporting into one
// registry aggregate their counts.
func newStatistics(registry metrics.Registry) *statistics {
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	s := &statistics{metrics: registry}
	for _, name := range []string{
		eventsReceived, eventsDelivered, eventsDuplicated, eventsInvalid, eventsSuperseded, eventsPublished,
		framesSent, framesFailed, framesMalformed, relayNotices, relayEOSE, relayRejected,
	} {
		metrics.GetOrRegisterCounter(name, s.metrics)
	}
	s.fanOutSizes = metrics.GetOrRegisterHistogram(publishFanOut, s.metrics, metrics.NewExpDecaySample(10000, 0.15))
	s.relaysInUse = metrics.GetOrRegisterGauge(relaysConnected, s.metrics)

	return s
}

func (s *statistics) inc(name string) {
	s.add(name, 1)
}

func (s *statistics) add(name string, delta int64) {
	metrics.GetOrRegisterCounter(name, s.metrics).Inc(delta)
}

func (s *statistics) count(name string) int64 {
	return metrics.GetOrRegisterCounter(name, s.metrics).Count()
}

func (s *statistics) fanOut(relays int) {
	s.fanOutSizes.Update(int64(relays))
}

func (s *statistics) connected(relays int) {
	s.relaysInUse.Update(int64(relays))
}

func (s *statistics) writeJSON(w io.Writer) {
	metrics.WriteJSONOnce(s.metrics, w)
}
