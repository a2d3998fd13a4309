// SPDX-License-Identifier: ice License 1.0

package query

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/mattn/go-sqlite3"

	"github.com/ice-blockchain/relaypool/model"
)

type (
	// DB is the local event cache: events, their tags and the relays each event was seen on.
	DB struct {
		*sqlx.DB

		stmtCacheMx *sync.RWMutex
		stmtCache   map[string]*sqlx.NamedStmt
	}
)

const (
	driverName = "sqlite3_relaypool"
	memoryDSN  = ":memory:"
)

var (
	//go:embed DDL.sql
	ddl string

	registerDriver sync.Once
)

// Open connects to the sqlite database at target (":memory:" when empty) and applies the schema.
func Open(target string) (*DB, error) {
	registerDriver.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{ConnectHook: registerFunctions})
		sqlx.BindDriver(driverName, sqlx.QUESTION)
	})
	if target == "" {
		target = memoryDSN
	}
	memory := strings.Contains(target, memoryDSN)
	if !memory && !strings.Contains(target, "?") {
		target += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	conn, err := sqlx.Connect(driverName, target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %v", target)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	client := &DB{
		DB:          conn,
		stmtCacheMx: new(sync.RWMutex),
		stmtCache:   make(map[string]*sqlx.NamedStmt),
	}
	client.Mapper = reflectx.NewMapperFunc("relaypool", func(in string) (out string) {
		n := strings.ToLower(in)
		switch n {
		case "createdat":
			out = "created_at"
		case "systemcreatedat":
			out = "system_created_at"
		default:
			out = n
		}

		return out
	})
	for _, statement := range strings.Split(ddl, "--------") {
		if _, err = client.Exec(statement); err != nil {
			return nil, errors.Wrapf(err, "failed to apply ddl: `%v`", statement)
		}
	}

	return client, nil
}

func registerFunctions(conn *sqlite3.SQLiteConn) error {
	if err := conn.RegisterFunc("relaypool_is_replaceable", sqlIsReplaceable, true); err != nil {
		return errors.Wrap(err, "failed to register relaypool_is_replaceable")
	}

	return nil
}

func sqlIsReplaceable(kind int64) bool {
	return model.IsReplaceableKind(int(kind))
}

func (db *DB) Close() error {
	db.stmtCacheMx.Lock()
	for hash, stmt := range db.stmtCache {
		_ = stmt.Close()
		delete(db.stmtCache, hash)
	}
	db.stmtCacheMx.Unlock()

	return errors.Wrap(db.DB.Close(), "failed to close database")
}

func (db *DB) exec(ctx context.Context, sql string, arg any) (rowsAffected int64, err error) {
	var (
		hash = hashSQL(sql)
	)

	stmt, err := db.prepare(ctx, sql, hash)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to prepare exec sql: `%v`", sql)
	}

	result, err := stmt.ExecContext(ctx, arg)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to exec prepared sql: `%v`", sql)
	}
	if rowsAffected, err = result.RowsAffected(); err != nil {
		return 0, errors.Wrapf(err, "failed to process rows affected for exec prepared sql: `%v`", sql)
	}

	return rowsAffected, nil
}

func (db *DB) prepare(ctx context.Context, sql, hash string) (stmt *sqlx.NamedStmt, err error) {
	db.stmtCacheMx.RLock()
	stmt, found := db.stmtCache[hash]
	db.stmtCacheMx.RUnlock()
	if found {
		return stmt, nil
	}

	db.stmtCacheMx.Lock()
	stmt, found = db.stmtCache[hash]
	if found {
		db.stmtCacheMx.Unlock()

		return stmt, nil
	}

	stmt, err = db.PrepareNamedContext(ctx, sql)
	if err == nil {
		db.stmtCache[hash] = stmt
	}
	db.stmtCacheMx.Unlock()

	return stmt, err
}

func hashSQL(sql string) (hash string) {
	sum := sha256.Sum256([]byte(sql))

	return string(sum[:])
}
