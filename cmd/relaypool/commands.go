// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip11"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/relaypool/cfg"
	"github.com/ice-blockchain/relaypool/lists"
	"github.com/ice-blockchain/relaypool/model"
	"github.com/ice-blockchain/relaypool/pool"
)

func publishCmd() *cobra.Command {
	var (
		content string
		replyTo string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "sign a text note and send it to every connected relay",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			s := open(ctx)
			defer s.close(ctx)

			event := &model.Event{Event: nostr.Event{Kind: model.KindTextNote, CreatedAt: nostr.Now(), Content: content}}
			if replyTo != "" {
				parent, err := s.fetchEvent(ctx, replyTo)
				if err != nil {
					return err
				}
				event.Tags = model.ReplyTags(parent)
			}
			published, err := s.pool.Publish(ctx, event)
			if err != nil {
				return errors.Wrap(err, "failed to publish")
			}
			fmt.Println(published.ID)

			return nil
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "note content")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the event to reply to")
	if err := cmd.MarkFlagRequired("content"); err != nil {
		log.Print(err)
	}

	return cmd
}

func subscribeCmd() *cobra.Command {
	var (
		ids, authors, tags []string
		kinds              []int
		since, until       int64
		limit              int
		follow             bool
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "open a subscription on every relay and print matching events",
		RunE: func(_ *cobra.Command, _ []string) error {
			filter, err := buildFilter(ids, authors, kinds, tags, since, until, limit)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			s := open(ctx)
			defer s.close(ctx)

			name := "relaypool-" + uuid.NewString()
			deregister, err := s.pool.Listen(name, func(delivery pool.Delivery) {
				raw, mErr := delivery.Event.MarshalJSON()
				if mErr != nil {
					log.Printf("WARN: %v", mErr)

					return
				}
				fmt.Printf("%v %s\n", delivery.Relay, raw)
			})
			if err != nil {
				return err
			}
			defer deregister()
			if _, err = s.pool.Subscribe(ctx, name, model.Filters{filter}); err != nil {
				return errors.Wrap(err, "failed to subscribe")
			}
			if follow {
				cfg.Watch(s.applyRelays)
				<-ctx.Done()
			} else {
				s.sleep(ctx)
			}
			s.pool.Unsubscribe(context.Background(), name)

			return nil
		},
	}
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "event ids")
	cmd.Flags().StringSliceVar(&authors, "authors", nil, "author public keys")
	cmd.Flags().IntSliceVar(&kinds, "kinds", nil, "event kinds")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag filter as key=value (repeatable)")
	cmd.Flags().Int64Var(&since, "since", 0, "lower created_at bound, inclusive")
	cmd.Flags().Int64Var(&until, "until", 0, "upper created_at bound, exclusive")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of stored events each relay should send")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep running until interrupted, following relay list changes in the config")

	return cmd
}

func buildFilter(ids, authors []string, kinds []int, tags []string, since, until int64, limit int) (model.Filter, error) {
	filter := model.Filter{Filter: nostr.Filter{IDs: ids, Authors: authors, Kinds: kinds, Limit: limit}}
	for _, tag := range tags {
		key, value, found := strings.Cut(tag, "=")
		if !found || key == "" {
			return filter, errors.Errorf("invalid tag filter %q, expected key=value", tag)
		}
		if filter.Tags == nil {
			filter.Tags = make(nostr.TagMap)
		}
		filter.Tags[key] = append(filter.Tags[key], value)
	}
	if since > 0 {
		ts := model.Timestamp(since)
		filter.Since = &ts
	}
	if until > 0 {
		ts := model.Timestamp(until)
		filter.Until = &ts
	}

	return filter, nil
}

func bookmarkCmd() *cobra.Command {
	var private bool
	cmd := &cobra.Command{
		Use:   "bookmark",
		Short: "manage the bookmark list of the configured key",
	}
	add := &cobra.Command{
		Use:  "add <event id>",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMutator(func(ctx context.Context, m *lists.Mutator) error {
				event, err := m.Add(ctx, args[0], !private)
				return report(event, err, "already bookmarked")
			})
		},
	}
	add.Flags().BoolVar(&private, "private", false, "keep the entry in the encrypted part of the list")
	remove := &cobra.Command{
		Use:  "remove <event id>",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMutator(func(ctx context.Context, m *lists.Mutator) error {
				event, err := m.Remove(ctx, args[0])
				return report(event, err, "not bookmarked")
			})
		},
	}
	list := &cobra.Command{
		Use: "list",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withMutator(func(ctx context.Context, m *lists.Mutator) error {
				bookmarks, err := m.Current(ctx)
				if err != nil {
					return err
				}
				for _, id := range bookmarks.Public {
					fmt.Println("public ", id)
				}
				for _, id := range bookmarks.Private {
					fmt.Println("private", id)
				}

				return nil
			})
		},
	}
	cmd.AddCommand(add, remove, list)

	return cmd
}

func report(event *model.Event, err error, noop string) error {
	if err != nil {
		return err
	}
	if event == nil {
		fmt.Println(noop)
	} else {
		fmt.Println(event.ID)
	}

	return nil
}

// withMutator syncs the latest list of the key from the relays into the cache before running fn.
func withMutator(fn func(context.Context, *lists.Mutator) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	s := open(ctx)
	defer s.close(ctx)

	if s.pool.PublicKey() == "" {
		return pool.ErrNoKey
	}
	name := "bookmarks-" + uuid.NewString()
	filter := model.Filter{Filter: nostr.Filter{Kinds: []int{s.cfg.ListKind}, Authors: []string{s.pool.PublicKey()}}}
	if _, err := s.pool.Subscribe(ctx, name, model.Filters{filter}); err != nil {
		return errors.Wrap(err, "failed to fetch the current list")
	}
	s.sleep(ctx)
	s.pool.Unsubscribe(ctx, name)

	return fn(ctx, lists.NewMutator(s.db, s.pool, s.cfg.PrivateKey, s.cfg.ListKind))
}

func relaysCmd() *cobra.Command {
	var info bool
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "connect to the configured relays and print their status",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := signalContext()
			defer cancel()
			s := open(ctx)
			defer s.close(ctx)

			statuses := s.pool.Relays()
			for _, url := range slices.Sorted(maps.Keys(statuses)) {
				fmt.Printf("%-12v %v\n", statuses[url], url)
				if !info {
					continue
				}
				doc, err := nip11.Fetch(ctx, url)
				if err != nil {
					log.Printf("WARN: no relay information for %v: %v", url, err)

					continue
				}
				fmt.Printf("%-12v %v %v %v\n", "", doc.Name, doc.Software, doc.Version)
			}
		},
	}
	cmd.Flags().BoolVar(&info, "info", false, "also fetch the relay information document of each relay")

	return cmd
}

func (s *session) fetchEvent(ctx context.Context, id string) (*model.Event, error) {
	filter := model.Filter{Filter: nostr.Filter{IDs: []string{id}}}
	name := "fetch-" + uuid.NewString()
	if _, err := s.pool.Subscribe(ctx, name, model.Filters{filter}); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %v", id)
	}
	s.sleep(ctx)
	s.pool.Unsubscribe(ctx, name)
	for event, err := range s.db.SelectEvents(ctx, &model.Subscription{Filters: model.Filters{filter}}) {
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %v", id)
		}

		return event, nil
	}

	return nil, errors.Errorf("event %v not found on any relay", id)
}

// applyRelays reconciles the pool with a reloaded relay list.
func (s *session) applyRelays(changed *pool.Config) {
	ctx := context.Background()
	wanted := make(map[string]struct{}, len(changed.Relays))
	for _, url := range changed.Relays {
		url = nostr.NormalizeURL(url)
		wanted[url] = struct{}{}
		if err := s.pool.AddRelay(ctx, url); err != nil {
			log.Printf("WARN: relay %v unavailable: %v", url, err)
		}
	}
	for url := range s.pool.Relays() {
		if _, keep := wanted[url]; !keep {
			if err := s.pool.RemoveRelay(url); err != nil {
				log.Printf("WARN: %v", err)
			}
		}
	}
}

func (s *session) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-stdlibtime.After(wait):
	}
}
