// SPDX-License-Identifier: ice License 1.0

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
)

func (eff Filters) Match(event *Event) bool {
	for _, filter := range eff {
		if filter.Matches(event) {
			return true
		}
	}

	return false
}

func (eff Filters) Fingerprint() string {
	parts := make([]string, 0, len(eff))
	for idx := range eff {
		parts = append(parts, eff[idx].Fingerprint())
	}

	return strings.Join(parts, "|")
}

// Matches treats the time range as [since, until).
func (ef Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(ef.IDs) > 0 && !slices.Contains(ef.IDs, event.ID) {
		return false
	}
	if len(ef.Authors) > 0 && !slices.Contains(ef.Authors, event.PubKey) {
		return false
	}
	if len(ef.Kinds) > 0 && !slices.Contains(ef.Kinds, event.Kind) {
		return false
	}
	for tagName, values := range ef.Tags {
		if len(values) > 0 && !hasTagValue(event.Tags, tagName, values) {
			return false
		}
	}
	if ef.Since != nil && event.CreatedAt < *ef.Since {
		return false
	}
	if ef.Until != nil && event.CreatedAt >= *ef.Until {
		return false
	}

	return true
}

func hasTagValue(tags Tags, tagName string, values []string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName && slices.Contains(values, tag[1]) {
			return true
		}
	}

	return false
}

// Fingerprint is a canonical form of the filter: field order, value order and tag key order
// do not influence it.
func (ef Filter) Fingerprint() string {
	var b strings.Builder
	writeSorted := func(key string, values []string) {
		if len(values) == 0 {
			return
		}
		sorted := slices.Clone(values)
		sort.Strings(sorted)
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(strings.Join(slices.Compact(sorted), ","))
		b.WriteByte(';')
	}
	writeSorted("ids", ef.IDs)
	writeSorted("authors", ef.Authors)
	if len(ef.Kinds) > 0 {
		kinds := make([]string, 0, len(ef.Kinds))
		for _, k := range slices.Compact(slices.Sorted(slices.Values(ef.Kinds))) {
			kinds = append(kinds, strconv.Itoa(k))
		}
		b.WriteString("kinds=")
		b.WriteString(strings.Join(kinds, ","))
		b.WriteByte(';')
	}
	tagNames := make([]string, 0, len(ef.Tags))
	for tagName := range ef.Tags {
		tagNames = append(tagNames, tagName)
	}
	sort.Strings(tagNames)
	for _, tagName := range tagNames {
		writeSorted("#"+tagName, ef.Tags[tagName])
	}
	if ef.Since != nil {
		b.WriteString("since=" + strconv.FormatInt(int64(*ef.Since), 10) + ";")
	}
	if ef.Until != nil {
		b.WriteString("until=" + strconv.FormatInt(int64(*ef.Until), 10) + ";")
	}
	if ef.Limit > 0 {
		b.WriteString("limit=" + strconv.Itoa(ef.Limit) + ";")
	}
	if ef.Search != "" {
		b.WriteString("search=" + ef.Search + ";")
	}
	sum := sha256.Sum256([]byte(b.String()))

	return hex.EncodeToString(sum[:])
}

func (ef Filter) MarshalJSON() ([]byte, error) {
	data, err := easyjson.Marshal(ef.Filter)

	return data, errors.Wrap(err, "failed to marshal filter")
}

func (ef *Filter) UnmarshalJSON(data []byte) error {
	return errors.Wrap(easyjson.Unmarshal(data, &ef.Filter), "failed to unmarshal filter")
}

func (ef Filter) String() string {
	data, _ := ef.MarshalJSON()

	return string(data)
}

func FromNostrFilters(filters ...nostr.Filter) Filters {
	if len(filters) == 0 {
		return nil
	}

	result := make(Filters, len(filters))
	for idx := range filters {
		result[idx] = Filter{Filter: filters[idx]}
	}

	return result
}

func (eff Filters) ToNostr() nostr.Filters {
	result := make(nostr.Filters, len(eff))
	for idx := range eff {
		result[idx] = eff[idx].Filter
	}

	return result
}
