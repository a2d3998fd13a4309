// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/ice-blockchain/relaypool/model"
)

const (
	selectDefaultBatchLimit = 100
)

type databaseEvent struct {
	model.Event
	SystemCreatedAt int64
	Jtags           string
}

type EventIterator iter.Seq2[*model.Event, error]

// AcceptEvent stores the event. Ephemeral events are skipped; a replaceable event is rejected with
// model.ErrSuperseded when a newer or equally new one of the same author and kind is stored, and
// replaces the older ones otherwise.
func (db *DB) AcceptEvent(ctx context.Context, event *model.Event) error {
	if isEphemeral(event.Kind) {
		return nil
	}
	if event.IsReplaceable() {
		return db.saveReplaceable(ctx, event)
	}

	return db.saveEvent(ctx, event)
}

func isEphemeral(kind model.Kind) bool {
	return 20000 <= kind && kind < 30000
}

func eventToDatabaseEvent(event *model.Event) (*databaseEvent, error) {
	tags := event.Tags
	if tags == nil {
		tags = model.Tags{}
	}
	jtags, err := json.Marshal(tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}

	return &databaseEvent{
		Event:           *event,
		SystemCreatedAt: time.Now().UnixNano(),
		Jtags:           string(jtags),
	}, nil
}

func (db *DB) saveEvent(ctx context.Context, event *model.Event) error {
	const stmt = `insert into events
	(kind, created_at, system_created_at, id, pubkey, sig, content, tags)
values
	(:kind, :created_at, :system_created_at, :id, :pubkey, :sig, :content, :jtags)
on conflict do nothing`

	dbEvent, err := eventToDatabaseEvent(event)
	if err != nil {
		return err
	}
	rowsAffected, err := db.exec(ctx, stmt, dbEvent)
	if err != nil {
		return errors.Wrap(err, "failed to exec insert event sql")
	}
	if rowsAffected == 0 {
		return errors.Wrapf(model.ErrDuplicate, "event %v", event.ID)
	}

	return nil
}

func (db *DB) saveReplaceable(ctx context.Context, event *model.Event) error {
	const (
		insertStmt = `insert into events
	(kind, created_at, system_created_at, id, pubkey, sig, content, tags)
select
	:kind, :created_at, :system_created_at, :id, :pubkey, :sig, :content, :jtags
where
	relaypool_is_replaceable(:kind) and
	not exists (select 42 from events where pubkey = :pubkey and kind = :kind and created_at >= :created_at)
on conflict do nothing`
		deleteStmt = `delete from events where pubkey = :pubkey and kind = :kind and id != :id`
	)

	dbEvent, err := eventToDatabaseEvent(event)
	if err != nil {
		return err
	}
	rowsAffected, err := db.exec(ctx, insertStmt, dbEvent)
	if err != nil {
		return errors.Wrap(err, "failed to exec insert replaceable event sql")
	}
	if rowsAffected == 0 {
		return errors.Wrapf(model.ErrSuperseded, "event %v of kind %v", event.ID, event.Kind)
	}
	if _, err = db.exec(ctx, deleteStmt, dbEvent); err != nil {
		return errors.Wrap(err, "failed to exec delete superseded events sql")
	}

	return nil
}

// AddEventRelay records that the event was observed on relayURL. Repeated sightings are ignored.
func (db *DB) AddEventRelay(ctx context.Context, eventID, relayURL string) error {
	const stmt = `insert into event_relays (event_id, relay_url, seen_at) values (:event_id, :relay_url, :seen_at)
on conflict do nothing`

	_, err := db.exec(ctx, stmt, map[string]any{
		"event_id":  eventID,
		"relay_url": relayURL,
		"seen_at":   time.Now().UnixNano(),
	})

	return errors.Wrapf(err, "failed to record relay %v for event %v", relayURL, eventID)
}

// EventRelays lists the relays the event was seen on, in order of the first sighting.
func (db *DB) EventRelays(ctx context.Context, eventID string) ([]string, error) {
	const stmt = `select relay_url from event_relays where event_id = :event_id order by seen_at, relay_url`

	var relays []string
	if err := db.selectAll(ctx, stmt, map[string]any{"event_id": eventID}, func(rows *sqlx.Rows) error {
		var url string
		if err := rows.Scan(&url); err != nil {
			return errors.Wrap(err, "failed to scan relay url")
		}
		relays = append(relays, url)

		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to select relays of event %v", eventID)
	}

	return relays, nil
}

func (db *DB) selectAll(ctx context.Context, sql string, arg any, scan func(*sqlx.Rows) error) error {
	stmt, err := db.prepare(ctx, sql, hashSQL(sql))
	if err != nil {
		return errors.Wrapf(err, "failed to prepare query sql: `%v`", sql)
	}
	rows, err := stmt.QueryxContext(ctx, arg)
	if err != nil {
		return errors.Wrapf(err, "failed to query sql: `%v`", sql)
	}
	defer rows.Close()
	for rows.Next() {
		if err = scan(rows); err != nil {
			return err
		}
	}

	return errors.Wrap(rows.Err(), "failed to iterate rows")
}

// LatestReplaceable returns the stored event of the author and kind with the highest created_at, or nil.
func (db *DB) LatestReplaceable(ctx context.Context, author string, kind model.Kind) (*model.Event, error) {
	filter := model.Filter{}
	filter.Authors = []string{author}
	filter.Kinds = []int{kind}

	var latest *model.Event
	for ev, err := range db.SelectEvents(ctx, &model.Subscription{Filters: model.Filters{filter}}) {
		if err != nil {
			return nil, errors.Wrapf(err, "failed to select %v events of %v", kind, author)
		}
		latest = model.Merge(latest, ev)
	}

	return latest, nil
}

func (db *DB) LatestList(ctx context.Context, author string, kind model.Kind) (*model.Event, error) {
	return db.LatestReplaceable(ctx, author, kind)
}

func (db *DB) SelectEvents(ctx context.Context, subscription *model.Subscription) EventIterator {
	limit := int64(0)
	if subscription != nil && len(subscription.Filters) > 0 && subscription.Filters[0].Limit > 0 {
		limit = int64(subscription.Filters[0].Limit)
	}

	it := &eventIterator{
		limit: limit,
		fetch: func(pivot, batch int64) (*sqlx.Rows, error) {
			sql, params, err := generateSelectEventsSQL(subscription, pivot, batch)
			if err != nil {
				return nil, err
			}
			stmt, err := db.prepare(ctx, sql, hashSQL(sql))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to prepare query sql: %q", sql)
			}

			return stmt.QueryxContext(ctx, params)
		},
	}

	return func(yield func(*model.Event, error) bool) {
		if err := it.Each(ctx, func(event *model.Event) error {
			if !yield(event, nil) {
				return errEventIteratorInterrupted
			}

			return nil
		}); err != nil && !errors.Is(err, errEventIteratorInterrupted) {
			yield(nil, err)
		}
	}
}

func (db *DB) CountEvents(ctx context.Context, subscription *model.Subscription) (count int64, err error) {
	where, params, err := generateEventsWhereClause(subscription)
	if err != nil {
		return -1, errors.Wrap(err, "failed to generate events where clause")
	}
	sql := "select count(id) from events where " + where

	stmt, err := db.prepare(ctx, sql, hashSQL(sql))
	if err != nil {
		return -1, errors.Wrapf(err, "failed to prepare query sql: %q", sql)
	}
	if err = stmt.GetContext(ctx, &count, params); err != nil {
		return -1, errors.Wrapf(err, "failed to query events count sql: %q", sql)
	}

	return count, nil
}

func generateSelectEventsSQL(subscription *model.Subscription, systemCreatedAtPivot, limit int64) (sql string, params map[string]any, err error) {
	where, params, err := generateEventsWhereClause(subscription)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to generate events where clause")
	}

	var systemCreatedAtFilter string
	if systemCreatedAtPivot != 0 {
		systemCreatedAtFilter = " (system_created_at < :system_created_at_pivot) AND "
		params["system_created_at_pivot"] = systemCreatedAtPivot
	}

	var limitQuery string
	if limit > 0 {
		params["mainlimit"] = limit
		limitQuery = " limit :mainlimit"
	}

	return `
select
	e.kind,
	e.created_at,
	e.system_created_at,
	e.id,
	e.pubkey,
	e.sig,
	e.content,
	e.tags as jtags
from
	events e
where ` + systemCreatedAtFilter + `(` + where + `)
order by
	system_created_at desc
` + limitQuery, params, nil
}

func generateEventsWhereClause(subscription *model.Subscription) (clause string, params map[string]any, err error) {
	var filters []model.Filter

	if subscription != nil {
		filters = subscription.Filters
	}

	return newWhereBuilder().Build(filters...)
}
