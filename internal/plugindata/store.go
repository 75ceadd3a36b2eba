// Package plugindata is the capability handed to plugin code for durable
// state. A Store is constructed with a fixed plugin id and injects it into
// every query, so a plugin cannot address another plugin's rows no matter
// what namespace or key it supplies.
package plugindata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paperline/internal/domain"
	"paperline/internal/repo"
	"paperline/internal/secretbox"
)

type Store struct {
	repo     repo.Repo
	codec    *secretbox.Codec
	pluginID string
	Now      func() time.Time
}

// New binds a store to one plugin. codec may be nil; encrypted writes then
// fail with secretbox.ErrNoKey instead of silently storing plaintext.
func New(r repo.Repo, codec *secretbox.Codec, pluginID string) *Store {
	return &Store{repo: r, codec: codec, pluginID: pluginID, Now: time.Now}
}

func (s *Store) PluginID() string { return s.pluginID }

// Set upserts (pluginID, namespace, key). Encrypted values are JSON-encoded
// first unless already a string, then sealed into the versioned envelope.
func (s *Store) Set(ctx context.Context, namespace, key string, value any, encrypted bool) error {
	ts := s.Now().UTC().Format(time.RFC3339)
	entry := domain.PluginDataEntry{
		PluginID:  s.pluginID,
		Namespace: namespace,
		Key:       key,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if encrypted {
		plain, ok := value.(string)
		if !ok {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode value: %w", err)
			}
			plain = string(data)
		}
		sealed, err := s.codec.Seal(plain)
		if err != nil {
			return err
		}
		entry.Value = sealed.Encode()
		entry.Encrypted = true
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode value: %w", err)
		}
		entry.Value = string(data)
	}
	return s.repo.UpsertDataEntry(ctx, entry)
}

// Get returns the stored value, or (nil, false, nil) when absent. Sealed
// rows are opened first; the decrypted payload is tried as JSON and falls
// back to the raw string, so plain-string secrets round-trip transparently.
func (s *Store) Get(ctx context.Context, namespace, key string) (any, bool, error) {
	entry, err := s.repo.GetDataEntry(ctx, s.pluginID, namespace, key)
	if err == repo.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw := entry.Value
	if entry.Encrypted {
		value, err := secretbox.Parse(entry.Value)
		if err != nil {
			return nil, false, err
		}
		raw, err = s.codec.Open(value)
		if err != nil {
			return nil, false, err
		}
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw, true, nil
	}
	return decoded, true, nil
}

// List returns the key names in a namespace, ascending; empty slice when the
// namespace has no entries.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	return s.repo.ListDataKeys(ctx, s.pluginID, namespace)
}

// Delete removes exactly that entry if present; no-op when absent.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.repo.DeleteDataEntry(ctx, s.pluginID, namespace, key)
}

// Clear removes every entry under the namespace for this plugin.
func (s *Store) Clear(ctx context.Context, namespace string) error {
	return s.repo.ClearDataNamespace(ctx, s.pluginID, namespace)
}
