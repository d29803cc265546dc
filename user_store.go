package nextstep

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// userStore persists user identity aggregates. Contacts, aliases, roles, and
// method preferences live inside the user record; credentials are separate
// records linked back through the per-user membership set.
type userStore struct {
	rdb        *redis.Client
	keys       storeKeys
	maxRetries int
}

func newUserStore(rdb *redis.Client, keys storeKeys, maxRetries int) *userStore {
	return &userStore{rdb: rdb, keys: keys, maxRetries: maxRetries}
}

func (s *userStore) Create(ctx context.Context, u *UserIdentity) error {
	return storeCreateJSON(ctx, s.rdb, s.keys.user(u.UserID), u, ErrUserExists)
}

func (s *userStore) Get(ctx context.Context, userID string) (*UserIdentity, error) {
	var u UserIdentity
	found, err := storeGetJSON(ctx, s.rdb, s.keys.user(userID), &u)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// Update applies fn to the user aggregate under optimistic concurrency control.
func (s *userStore) Update(
	ctx context.Context,
	userID string,
	fn func(u *UserIdentity) error,
) (*UserIdentity, error) {
	userKey := s.keys.user(userID)

	var updated *UserIdentity
	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		var u UserIdentity
		found, err := txGetJSON(ctx, tx, userKey, &u)
		if err != nil {
			return err
		}
		if !found {
			return ErrUserNotFound
		}

		if err := fn(&u); err != nil {
			return err
		}

		data, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &u
		return nil
	}, userKey)

	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}
