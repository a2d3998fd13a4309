// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	stdlibtime "time"

	"github.com/spf13/cobra"

	"github.com/ice-blockchain/relaypool/cfg"
	"github.com/ice-blockchain/relaypool/database/query"
	"github.com/ice-blockchain/relaypool/model"
	"github.com/ice-blockchain/relaypool/pool"
)

var (
	configPaths  []string
	databasePath string
	privateKey   string
	relayURLs    []string
	wait         stdlibtime.Duration
	printStats   bool
	relaypool    = &cobra.Command{
		Use:   "relaypool",
		Short: "relaypool publishes to and subscribes from a set of nostr relays",
	}
	initFlags = func() {
		relaypool.PersistentFlags().StringArrayVar(&configPaths, "config", []string{"./application.yaml"}, "configuration files to try, first readable wins")
		relaypool.PersistentFlags().StringVar(&databasePath, "database", ":memory:", "path to the local event cache")
		relaypool.PersistentFlags().StringVar(&privateKey, "key", "", "hex private key, overrides the configured one")
		relaypool.PersistentFlags().StringArrayVar(&relayURLs, "relay", nil, "relay url, overrides the configured list (repeatable)")
		relaypool.PersistentFlags().DurationVar(&wait, "wait", 2*stdlibtime.Second, "how long to wait for relay traffic")
		relaypool.PersistentFlags().BoolVar(&printStats, "stats", false, "print pool metrics on exit")
	}
)

type session struct {
	pool *pool.Pool
	db   *query.DB
	cfg  *pool.Config
}

func init() {
	initFlags()
	relaypool.AddCommand(publishCmd(), subscribeCmd(), bookmarkCmd(), relaysCmd())
}

// open loads the configuration, opens the event cache and connects every relay.
// Relays that fail to connect are reported and left in the pool as failed.
func open(ctx context.Context) *session {
	cfg.MustInit(configPaths...)
	poolCfg := cfg.MustGet[pool.Config]()
	if privateKey != "" {
		poolCfg.PrivateKey = privateKey
	}
	if len(relayURLs) > 0 {
		poolCfg.Relays = relayURLs
	}
	if poolCfg.ListKind == 0 {
		poolCfg.ListKind = model.KindBookmarkList
	}
	if databasePath == ":memory:" {
		log.Print("using in-memory database")
	} else {
		log.Print("using database at ", databasePath)
	}
	db := query.MustInit(databasePath)
	p := pool.New(poolCfg, nil, pool.WithStore(db))
	for _, url := range poolCfg.Relays {
		if err := p.AddRelay(ctx, url); err != nil {
			log.Printf("WARN: relay %v unavailable: %v", url, err)
		}
	}

	return &session{pool: p, db: db, cfg: poolCfg}
}

func (s *session) close(ctx context.Context) {
	if printStats {
		s.pool.WriteStatistics(os.Stdout)
	}
	if err := s.pool.Close(ctx); err != nil {
		log.Printf("WARN: %v", err)
	}
	if err := s.db.Close(); err != nil {
		log.Printf("WARN: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := relaypool.Execute(); err != nil {
		log.Panic(err)
	}
}
