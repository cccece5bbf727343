package session

import (
	"context"
	"fmt"
	"time"

	"interview/pkg/kv"
	"interview/pkg/llm"
	"interview/pkg/logx"
)

// Key namespaces. Session and sub-session records expire with the session
// TTL; form-data snapshots are written without TTL so they survive expiry.
func SessionKey(id string) string {
	return "session:" + id
}

func SubsessionKey(id string, level int) string {
	return fmt.Sprintf("subsession:%s:%d", id, level)
}

func FormDataKey(id string) string {
	return "formdata:" + id
}

// Store persists session state through the KV contract: read the full value,
// mutate in memory, write the full value back. One writer per session per
// turn; last write wins.
type Store struct {
	kv     kv.Store
	logger *logx.Logger
}

// NewStore wraps a KV backend.
func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend, logger: logx.NewLogger("session-store")}
}

// Load reads a session by id. The second return is false when no session
// exists (or it expired).
func (st *Store) Load(ctx context.Context, id string) (State, bool, error) {
	s, ok, err := kv.GetJSON[State](ctx, st.kv, SessionKey(id))
	if err != nil {
		return State{}, false, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, ok, nil
}

// Save writes the full session value under its key with the session TTL.
func (st *Store) Save(ctx context.Context, s State) error {
	ttl := time.Duration(s.TTLSeconds) * time.Second
	if err := kv.SetJSON(ctx, st.kv, SessionKey(s.ID), s, ttl); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session record.
func (st *Store) Delete(ctx context.Context, id string) error {
	return st.kv.Delete(ctx, SessionKey(id))
}

// List returns the ids of all live sessions.
func (st *Store) List(ctx context.Context) ([]string, error) {
	keys, err := st.kv.List(ctx, "session:")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len("session:"):])
	}
	return ids, nil
}

// SaveSubsessionHistory persists one delegation level's nested message
// history. Each level is stored independently so a delegation can be
// suspended and resumed across turns.
func (st *Store) SaveSubsessionHistory(ctx context.Context, s State, level int, msgs []llm.Message) error {
	ttl := time.Duration(s.TTLSeconds) * time.Second
	return kv.SetJSON(ctx, st.kv, SubsessionKey(s.ID, level), msgs, ttl)
}

// LoadSubsessionHistory reads a delegation level's nested message history.
func (st *Store) LoadSubsessionHistory(ctx context.Context, id string, level int) ([]llm.Message, bool, error) {
	return kv.GetJSON[[]llm.Message](ctx, st.kv, SubsessionKey(id, level))
}

// DeleteSubsessionHistory removes a level's history once its delegation pops.
func (st *Store) DeleteSubsessionHistory(ctx context.Context, id string, level int) error {
	return st.kv.Delete(ctx, SubsessionKey(id, level))
}

// SaveFormData snapshots the collected fields with no TTL. Written once on
// completion; the snapshot outlives the session record.
func (st *Store) SaveFormData(ctx context.Context, s State) error {
	if err := kv.SetJSON(ctx, st.kv, FormDataKey(s.ID), s.Collected, 0); err != nil {
		return fmt.Errorf("save form data %s: %w", s.ID, err)
	}
	st.logger.Info("Snapshotted %d collected fields for session %s", len(s.Collected), s.ID)
	return nil
}

// LoadFormData reads a completed session's collected fields.
func (st *Store) LoadFormData(ctx context.Context, id string) (map[string]string, bool, error) {
	return kv.GetJSON[map[string]string](ctx, st.kv, FormDataKey(id))
}
