// SPDX-License-Identifier: ice License 1.0

package lists

import (
	"context"
	"encoding/json"
	"log"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/ice-blockchain/relaypool/model"
)

func NewMutator(source Source, publisher Publisher, privateKey string, kind model.Kind) *Mutator {
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		log.Panic(errors.Wrap(err, "invalid private key"))
	}
	if kind == 0 {
		kind = model.KindBookmarkList
	}
	if !model.IsReplaceableKind(kind) {
		log.Panic(errors.Wrapf(ErrNotList, "kind %v", kind))
	}
	if s, ok := publisher.(signer); ok && s.PublicKey() != "" && s.PublicKey() != publicKey {
		log.Panic(errors.Wrapf(ErrKeyMismatch, "publisher key %v, list key %v", s.PublicKey(), publicKey))
	}

	return &Mutator{
		source:     source,
		publisher:  publisher,
		now:        nostr.Now,
		privateKey: privateKey,
		publicKey:  publicKey,
		kind:       kind,
	}
}

func (m *Mutator) PublicKey() string {
	return m.publicKey
}

// Add publishes a list containing entryID. It returns nil without publishing when the entry is already present.
func (m *Mutator) Add(ctx context.Context, entryID string, makePublic bool) (*model.Event, error) {
	current, bookmarks, err := m.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if bookmarks.Contains(entryID) {
		return nil, nil //nolint:nilnil // Nothing to publish.
	}
	if makePublic {
		bookmarks.Public = append(bookmarks.Public, entryID)
	} else {
		bookmarks.Private = append(bookmarks.Private, entryID)
	}

	return m.publish(ctx, current, bookmarks)
}

// Remove publishes a list without entryID. It returns nil without publishing when the entry is absent.
func (m *Mutator) Remove(ctx context.Context, entryID string) (*model.Event, error) {
	current, bookmarks, err := m.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !bookmarks.Contains(entryID) {
		return nil, nil //nolint:nilnil // Nothing to publish.
	}
	bookmarks.remove(entryID)

	return m.publish(ctx, current, bookmarks)
}

func (m *Mutator) Current(ctx context.Context) (*Bookmarks, error) {
	_, bookmarks, err := m.fetch(ctx)

	return bookmarks, err
}

func (m *Mutator) fetch(ctx context.Context) (*model.Event, *Bookmarks, error) {
	current, err := m.source.LatestList(ctx, m.publicKey, m.kind)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to fetch latest list %v of %v", m.kind, m.publicKey)
	}
	bookmarks, err := m.Decode(current)
	if err != nil {
		return nil, nil, err
	}

	return current, bookmarks, nil
}

// Decode derives membership from a list event. Private entries are only readable by the list author.
func (m *Mutator) Decode(event *model.Event) (*Bookmarks, error) {
	bookmarks := new(Bookmarks)
	if event == nil {
		return bookmarks, nil
	}
	if !model.IsReplaceableKind(event.Kind) {
		return nil, errors.Wrapf(ErrNotList, "event %v of kind %v", event.ID, event.Kind)
	}
	bookmarks.Public = entries(event.Tags)
	if event.Content == "" || event.PubKey != m.publicKey {
		return bookmarks, nil
	}
	private, err := m.decryptTags(event.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "list %v", event.ID)
	}
	bookmarks.Private = entries(private)

	return bookmarks, nil
}

func entries(tags model.Tags) []string {
	ids := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag.Key() == "e" && tag.Value() != "" && !slices.Contains(ids, tag.Value()) {
			ids = append(ids, tag.Value())
		}
	}

	return ids
}

// rebuild keeps the non-entry tags of the previous list in place and appends the entry tags.
func rebuild(previous model.Tags, ids []string) model.Tags {
	tags := make(model.Tags, 0, len(previous)+len(ids))
	for _, tag := range previous {
		if tag.Key() != "e" {
			tags = append(tags, tag)
		}
	}
	for _, id := range ids {
		tags = append(tags, model.Tag{"e", id})
	}

	return tags
}

func (m *Mutator) publish(ctx context.Context, current *model.Event, bookmarks *Bookmarks) (*model.Event, error) {
	var (
		previousPublic, previousPrivate model.Tags
		createdAt                       = m.now()
	)
	if current != nil {
		previousPublic = current.Tags
		if current.CreatedAt >= createdAt {
			createdAt = current.CreatedAt + 1
		}
		if current.Content != "" && current.PubKey == m.publicKey {
			var err error
			if previousPrivate, err = m.decryptTags(current.Content); err != nil {
				return nil, errors.Wrapf(err, "list %v", current.ID)
			}
		}
	}
	content := ""
	if private := rebuild(previousPrivate, bookmarks.Private); len(private) > 0 {
		var err error
		if content, err = m.encryptTags(private); err != nil {
			return nil, err
		}
	}
	event := &model.Event{Event: nostr.Event{
		CreatedAt: createdAt,
		Kind:      m.kind,
		Tags:      rebuild(previousPublic, bookmarks.Public),
		Content:   content,
	}}
	if err := event.Sign(m.privateKey); err != nil {
		return nil, err
	}
	published, err := m.publisher.Publish(ctx, event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to publish list %v", m.kind)
	}

	return published, nil
}

func (m *Mutator) sharedSecret() ([]byte, error) {
	secret, err := nip04.ComputeSharedSecret(m.publicKey, m.privateKey)

	return secret, errors.Wrap(err, "failed to compute shared secret")
}

func (m *Mutator) encryptTags(tags model.Tags) (string, error) {
	plain, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode private tags")
	}
	secret, err := m.sharedSecret()
	if err != nil {
		return "", err
	}
	content, err := nip04.Encrypt(string(plain), secret)

	return content, errors.Wrap(err, "failed to encrypt private tags")
}

func (m *Mutator) decryptTags(content string) (model.Tags, error) {
	secret, err := m.sharedSecret()
	if err != nil {
		return nil, err
	}
	plain, err := nip04.Decrypt(content, secret)
	if err != nil {
		return nil, errors.Wrapf(ErrUndecryptable, "%v", err)
	}
	var tags model.Tags
	if err = json.Unmarshal([]byte(plain), &tags); err != nil {
		return nil, errors.Wrapf(ErrUndecryptable, "malformed private tags: %v", err)
	}

	return tags, nil
}
