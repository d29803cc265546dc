package nextstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// credentialStore persists credentials with a username index per credential
// definition and a per-user membership set. Value history for reuse checking is
// kept in a capped Redis list.
type credentialStore struct {
	rdb        *redis.Client
	keys       storeKeys
	maxRetries int
}

func newCredentialStore(rdb *redis.Client, keys storeKeys, maxRetries int) *credentialStore {
	return &credentialStore{rdb: rdb, keys: keys, maxRetries: maxRetries}
}

// Create inserts the credential, claims its username in the definition's index,
// and registers it with the owning user. The username claim and the record
// insert run in one transaction so a lost race never leaves a half-registered
// credential behind.
func (s *credentialStore) Create(ctx context.Context, c *Credential) error {
	credKey := s.keys.credential(c.CredentialID)
	var unameKey string
	if c.Username != "" {
		unameKey = s.keys.credentialByUsername(c.DefinitionName, c.Username)
	}

	watched := []string{credKey}
	if unameKey != "" {
		watched = append(watched, unameKey)
	}

	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, credKey).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists > 0 {
			return ErrCredentialExists
		}
		if unameKey != "" {
			taken, err := tx.Exists(ctx, unameKey).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if taken > 0 {
				return ErrUsernameTaken
			}
		}

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, credKey, data, 0)
			if unameKey != "" {
				pipe.Set(ctx, unameKey, c.CredentialID, 0)
			}
			pipe.SAdd(ctx, s.keys.credentialsByUser(c.UserID), c.CredentialID)
			return nil
		})
		return err
	}, watched...)

	return wrapStoreErr(err)
}

func (s *credentialStore) Get(ctx context.Context, credentialID string) (*Credential, error) {
	var c Credential
	found, err := storeGetJSON(ctx, s.rdb, s.keys.credential(credentialID), &c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCredentialNotFound
	}
	return &c, nil
}

// GetByUsername resolves a username within one credential definition.
func (s *credentialStore) GetByUsername(ctx context.Context, definition, username string) (*Credential, error) {
	id, err := s.rdb.Get(ctx, s.keys.credentialByUsername(definition, username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.Get(ctx, id)
}

func (s *credentialStore) ListByUser(ctx context.Context, userID string) ([]*Credential, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.credentialsByUser(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	credentials := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrCredentialNotFound) {
				continue
			}
			return nil, err
		}
		credentials = append(credentials, c)
	}
	return credentials, nil
}

// Update applies fn to the credential under optimistic concurrency control.
// fn must not change the username; renames go through Rename so the username
// index stays consistent.
func (s *credentialStore) Update(
	ctx context.Context,
	credentialID string,
	fn func(c *Credential) error,
) (*Credential, error) {
	credKey := s.keys.credential(credentialID)

	var updated *Credential
	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		var c Credential
		found, err := txGetJSON(ctx, tx, credKey, &c)
		if err != nil {
			return err
		}
		if !found {
			return ErrCredentialNotFound
		}

		if err := fn(&c); err != nil {
			return err
		}

		data, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, credKey, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &c
		return nil
	}, credKey)

	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

// Rename moves the credential to a new username, releasing the old index entry
// and claiming the new one in the same transaction. The new index key is
// watched alongside the record, so a concurrent claim of the same username
// forces a retry instead of silently overwriting it.
func (s *credentialStore) Rename(
	ctx context.Context,
	credentialID, definition, newUsername string,
	fn func(c *Credential) error,
) (*Credential, error) {
	credKey := s.keys.credential(credentialID)
	newKey := s.keys.credentialByUsername(definition, newUsername)

	var updated *Credential
	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		var c Credential
		found, err := txGetJSON(ctx, tx, credKey, &c)
		if err != nil {
			return err
		}
		if !found {
			return ErrCredentialNotFound
		}

		oldKey := ""
		if c.Username != newUsername {
			owner, err := tx.Get(ctx, newKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			if err == nil && owner != c.CredentialID {
				return ErrUsernameTaken
			}
			if c.Username != "" {
				oldKey = s.keys.credentialByUsername(c.DefinitionName, c.Username)
			}
			c.Username = newUsername
		}
		if err := fn(&c); err != nil {
			return err
		}

		data, err := json.Marshal(&c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if oldKey != "" {
				pipe.Del(ctx, oldKey)
			}
			pipe.Set(ctx, newKey, c.CredentialID, 0)
			pipe.Set(ctx, credKey, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &c
		return nil
	}, credKey, newKey)

	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

// ReleaseUsername drops the username index entry, used when a credential is
// soft-removed so the name becomes available again.
func (s *credentialStore) ReleaseUsername(ctx context.Context, definition, username string) error {
	if username == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, s.keys.credentialByUsername(definition, username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// AppendHistory records a prior credential value, keeping at most limit entries.
func (s *credentialStore) AppendHistory(ctx context.Context, entry *CredentialHistoryEntry, limit int) error {
	if limit <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := s.keys.credentialHistory(entry.DefinitionName, entry.UserID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-limit), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *credentialStore) History(ctx context.Context, definition, userID string) ([]CredentialHistoryEntry, error) {
	rows, err := s.rdb.LRange(ctx, s.keys.credentialHistory(definition, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	entries := make([]CredentialHistoryEntry, 0, len(rows))
	for _, row := range rows {
		var entry CredentialHistoryEntry
		if err := json.Unmarshal([]byte(row), &entry); err != nil {
			return nil, fmt.Errorf("%w: corrupt credential history: %v", ErrStoreUnavailable, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
