// SPDX-License-Identifier: ice License 1.0

package query

import (
	"log"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ice-blockchain/relaypool/model"
)

const (
	whereBuilderDefaultWhere = "1=1"
	whereBuilderEmptyRange   = "1=0"
	tagValuesMax             = 21
)

var ErrWhereBuilderInvalidTimeRange = errors.New("invalid time range")

type whereBuilder struct {
	Params map[string]any
	strings.Builder
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{
		Params: make(map[string]any),
	}
}

func (w *whereBuilder) addParam(filterID, name string, value any) (key string) {
	key = filterID + name
	w.Params[key] = value

	return key
}

func deduplicateSlice[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	out := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}

func buildFromSlice[T comparable](builder *whereBuilder, filterID string, s []T, name string) *whereBuilder {
	if len(s) == 0 {
		return builder
	}

	builder.maybeAND()
	builder.WriteString(name)
	s = deduplicateSlice(s)
	if len(s) == 1 {
		// X = :X_name.
		builder.WriteString(" = :")
		builder.WriteString(builder.addParam(filterID, name, s[0]))

		return builder
	}

	// X IN (:X_name0, :X_name1, ...).
	builder.WriteString(" IN (")
	for i := range len(s) - 1 {
		builder.WriteRune(':')
		builder.WriteString(builder.addParam(filterID, name+strconv.Itoa(i), s[i]))
		builder.WriteRune(',')
	}
	builder.WriteRune(':')
	builder.WriteString(builder.addParam(filterID, name+strconv.Itoa(len(s)-1), s[len(s)-1]))
	builder.WriteRune(')')

	return builder
}

func (w *whereBuilder) isOnBegin() bool {
	s := w.String()

	return s[len(s)-1] == '('
}

func (w *whereBuilder) maybeAND() {
	if w.Len() == 0 || w.isOnBegin() {
		return
	}

	w.WriteString(" AND ")
}

func (w *whereBuilder) maybeOR() {
	if w.Len() == 0 || w.isOnBegin() {
		return
	}

	w.WriteString(" OR ")
}

func (w *whereBuilder) applyFilterTags(filterID string, tags model.TagMap) {
	keys := make([]string, 0, len(tags))
	for key, values := range tags {
		if len(values) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for tagID, key := range keys {
		values := tags[key]
		if len(values) > tagValuesMax {
			log.Printf("WARN: too many values for tag %q, only the first %d will be used", key, tagValuesMax)
			values = values[:tagValuesMax]
		}
		tagFilterID := filterID + "tag" + strconv.Itoa(tagID) + "_"
		w.maybeAND()
		w.WriteString("id IN (select event_id from event_tags where event_tag_key = :")
		w.WriteString(w.addParam(tagFilterID, "key", key))
		w.WriteString(" AND ")
		// The nested builder starts on '(' so no AND is prepended to the value condition.
		nested := &whereBuilder{Params: w.Params}
		nested.WriteRune('(')
		buildFromSlice(nested, tagFilterID, values, "event_tag_value")
		w.WriteString(nested.String()[1:])
		w.WriteRune(')')
	}
}

// applyTimeRange matches [since, until).
func (w *whereBuilder) applyTimeRange(filterID string, since, until *model.Timestamp) error {
	if since != nil && until != nil {
		if *since > *until {
			return errors.Wrapf(ErrWhereBuilderInvalidTimeRange, "since [%d] is greater than until [%d]", *since, *until)
		} else if *since == *until {
			w.maybeAND()
			w.WriteString(whereBuilderEmptyRange)

			return nil
		}
	}
	if since != nil {
		w.maybeAND()
		w.WriteString("created_at >= :")
		w.WriteString(w.addParam(filterID, "since", int64(*since)))
	}
	if until != nil {
		w.maybeAND()
		w.WriteString("created_at < :")
		w.WriteString(w.addParam(filterID, "until", int64(*until)))
	}

	return nil
}

func isFilterEmpty(filter *model.Filter) bool {
	return len(filter.IDs) == 0 &&
		len(filter.Kinds) == 0 &&
		len(filter.Authors) == 0 &&
		!slices.ContainsFunc(mapValues(filter.Tags), func(v []string) bool { return len(v) > 0 }) &&
		filter.Since == nil &&
		filter.Until == nil
}

func mapValues(tags model.TagMap) [][]string {
	values := make([][]string, 0, len(tags))
	for _, v := range tags {
		values = append(values, v)
	}

	return values
}

func (w *whereBuilder) applyFilter(idx int, filter *model.Filter) error {
	filterID := "filter" + strconv.Itoa(idx) + "_"
	w.WriteRune('(') // Begin the filter section.
	if isFilterEmpty(filter) {
		w.WriteString(whereBuilderDefaultWhere)
	}
	buildFromSlice(w, filterID, filter.IDs, "id")
	buildFromSlice(w, filterID, filter.Kinds, "kind")
	buildFromSlice(w, filterID, filter.Authors, "pubkey")
	if err := w.applyTimeRange(filterID, filter.Since, filter.Until); err != nil {
		return err
	}
	w.applyFilterTags(filterID, filter.Tags)
	w.WriteRune(')') // End the filter section.

	return nil
}

// Build turns the filters into a WHERE clause: filters are ORed, fields inside a filter are ANDed.
func (w *whereBuilder) Build(filters ...model.Filter) (sql string, params map[string]any, err error) {
	for idx := range filters {
		w.maybeOR()
		if err = w.applyFilter(idx, &filters[idx]); err != nil {
			return "", nil, errors.Wrapf(err, "failed to apply filter %d", idx)
		}
	}

	// If there are no filters, return the default WHERE clause.
	if w.Len() == 0 {
		return whereBuilderDefaultWhere, w.Params, nil
	}

	return w.String(), w.Params, nil
}
