// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/ice-blockchain/relaypool/model"
)

var errEventIteratorInterrupted = errors.New("interrupted")

// eventIterator pages through events by system_created_at. Each batch is read completely and its
// rows closed before the callback runs, so callbacks may use the database.
type eventIterator struct {
	fetch func(pivot, batch int64) (*sqlx.Rows, error)
	limit int64
}

func (it *eventIterator) decodeTags(jtags string) (tags model.Tags, err error) {
	if len(jtags) == 0 {
		return
	}

	if err = json.Unmarshal([]byte(jtags), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}

	return tags, nil
}

func (it *eventIterator) scanEvent(rows *sqlx.Rows) (_ *databaseEvent, err error) {
	var ev databaseEvent

	if err = rows.StructScan(&ev); err != nil {
		return nil, errors.Wrap(err, "failed to struct scan")
	}

	if ev.Tags, err = it.decodeTags(ev.Jtags); err != nil {
		return nil, errors.Wrap(err, "failed to decode tags")
	}

	return &ev, nil
}

func (it *eventIterator) scanBatch(pivot, batch int64) ([]*databaseEvent, error) {
	rows, err := it.fetch(pivot, batch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}
	defer rows.Close()

	events := make([]*databaseEvent, 0, batch)
	for rows.Next() {
		event, sErr := it.scanEvent(rows)
		if sErr != nil {
			return nil, errors.Wrap(sErr, "failed to scan event")
		}
		events = append(events, event)
	}

	return events, errors.Wrap(rows.Err(), "failed to iterate rows")
}

func (it *eventIterator) Each(ctx context.Context, fn func(*model.Event) error) error {
	var (
		pivot   int64
		fetched int64
	)

	for ctx.Err() == nil {
		batch := int64(selectDefaultBatchLimit)
		if it.limit > 0 {
			batch = min(batch, it.limit-fetched)
		}
		if batch <= 0 {
			return nil
		}
		events, err := it.scanBatch(pivot, batch)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err = fn(&event.Event); err != nil {
				return errors.Wrap(err, "failed to process event")
			}
			if pivot == 0 || event.SystemCreatedAt < pivot {
				pivot = event.SystemCreatedAt
			}
		}
		fetched += int64(len(events))
		if int64(len(events)) < batch {
			return nil
		}
	}

	return ctx.Err()
}
