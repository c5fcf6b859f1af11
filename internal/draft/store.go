package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storeops/internal/kv"
	"storeops/internal/models"
)

// Store stages drafts in the TTL key-value store. Keys are scoped by acting
// principal and draft type, so one actor can never load or claim another's
// draft, and confirming a draft through the wrong endpoint reads as not
// found.
type Store struct {
	kv  *kv.Store
	ttl time.Duration
}

// New builds a draft store with the configured default TTL.
func New(store *kv.Store, ttl time.Duration) *Store {
	return &Store{kv: store, ttl: ttl}
}

func key(actor models.Actor, draftType, id string) string {
	return fmt.Sprintf("%s:%s:draft:%s", actor.ID, draftType, id)
}

// Create stages a new draft and returns it with id and expiry populated.
func (s *Store) Create(ctx context.Context, actor models.Actor, draftType string, payload any, preview string) (models.Draft, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.Draft{}, fmt.Errorf("marshal draft payload: %w", err)
	}
	now := time.Now().UTC()
	d := models.Draft{
		ID:        uuid.New().String(),
		Type:      draftType,
		Payload:   raw,
		Preview:   preview,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	data, err := json.Marshal(d)
	if err != nil {
		return models.Draft{}, fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.kv.Set(ctx, key(actor, draftType, d.ID), data, s.ttl); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// Load reads a draft without consuming it, for preview endpoints.
func (s *Store) Load(ctx context.Context, actor models.Actor, draftType, id string) (models.Draft, error) {
	data, ok, err := s.kv.Get(ctx, key(actor, draftType, id))
	if err != nil {
		return models.Draft{}, err
	}
	if !ok {
		return models.Draft{}, models.ErrNotFound
	}
	return decode(data)
}

// Claim atomically consumes the draft. At most one of N concurrent claims
// succeeds; every other caller, and any claim against a different type or
// actor, gets ErrNotFound.
func (s *Store) Claim(ctx context.Context, actor models.Actor, draftType, id string) (models.Draft, error) {
	data, ok, err := s.kv.Claim(ctx, key(actor, draftType, id))
	if err != nil {
		return models.Draft{}, err
	}
	if !ok {
		return models.Draft{}, models.ErrNotFound
	}
	d, err := decode(data)
	if err != nil {
		return models.Draft{}, err
	}
	if d.Type != draftType {
		// Key scoping should make this unreachable; treat a stored
		// mismatch as a corrupt record rather than a claimable draft.
		return models.Draft{}, fmt.Errorf("draft %s: stored type %q does not match %q", id, d.Type, draftType)
	}
	return d, nil
}

// Cancel discards a staged draft. Cancelling an absent draft reports
// ErrNotFound so the caller can tell a no-op from a discard.
func (s *Store) Cancel(ctx context.Context, actor models.Actor, draftType, id string) error {
	k := key(actor, draftType, id)
	_, ok, err := s.kv.Get(ctx, k)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return s.kv.Delete(ctx, k)
}

func decode(data []byte) (models.Draft, error) {
	var d models.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return models.Draft{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	return d, nil
}
