package nextstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// storeKeys builds the Redis key layout. All keys share one configurable
// prefix so several engines can coexist on one Redis instance.
type storeKeys struct {
	prefix string
}

func (k storeKeys) operation(id string) string { return k.prefix + ":op:" + id }
func (k storeKeys) operationHistory(id string) string { return k.prefix + ":op:hist:" + id }
func (k storeKeys) operationsByUser(uid string) string { return k.prefix + ":op:byuser:" + uid }

func (k storeKeys) credential(id string) string { return k.prefix + ":cred:" + id }
func (k storeKeys) credentialByUsername(definition, username string) string {
	return k.prefix + ":cred:uname:" + definition + ":" + username
}
func (k storeKeys) credentialsByUser(uid string) string { return k.prefix + ":cred:byuser:" + uid }
func (k storeKeys) credentialHistory(definition, uid string) string {
	return k.prefix + ":cred:hist:" + definition + ":" + uid
}

func (k storeKeys) otp(id string) string { return k.prefix + ":otp:" + id }
func (k storeKeys) otpActive(opID string) string { return k.prefix + ":otp:active:" + opID }
func (k storeKeys) otpsByOperation(opID string) string {
	return k.prefix + ":otp:byop:" + opID
}

func (k storeKeys) user(id string) string { return k.prefix + ":user:" + id }

func (k storeKeys) credentialPolicy(name string) string {
	return k.prefix + ":policy:credential:" + name
}
func (k storeKeys) otpPolicy(name string) string { return k.prefix + ":policy:otp:" + name }
func (k storeKeys) credentialDefinition(name string) string {
	return k.prefix + ":def:credential:" + name
}
func (k storeKeys) otpDefinition(name string) string { return k.prefix + ":def:otp:" + name }

func (k storeKeys) credentialPolicyIndex() string { return k.prefix + ":policy:credential:index" }
func (k storeKeys) otpPolicyIndex() string { return k.prefix + ":policy:otp:index" }
func (k storeKeys) credentialDefinitionIndex() string { return k.prefix + ":def:credential:index" }
func (k storeKeys) otpDefinitionIndex() string { return k.prefix + ":def:otp:index" }

// storeGetJSON loads and decodes one record. The boolean reports existence;
// backend failures are wrapped in ErrStoreUnavailable.
func storeGetJSON(ctx context.Context, rdb *redis.Client, key string, v any) (bool, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: corrupt record at %s: %v", ErrStoreUnavailable, key, err)
	}
	return true, nil
}

// storeCreateJSON inserts a record that must not already exist.
func storeCreateJSON(ctx context.Context, rdb *redis.Client, key string, v any, existsErr error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ok, err := rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return existsErr
	}
	return nil
}

// storeUpdate runs fn inside a WATCH transaction on the given keys, retrying on
// write conflicts. fn must re-read all watched state through tx and issue its
// writes through tx.TxPipelined. Exhausting the retry budget yields ErrConflict.
func storeUpdate(ctx context.Context, rdb *redis.Client, maxRetries int, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := rdb.Watch(ctx, fn, keys...)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return ErrConflict
}

// txGetJSON is storeGetJSON reading through a transaction.
func txGetJSON(ctx context.Context, tx *redis.Tx, key string, v any) (bool, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: corrupt record at %s: %v", ErrStoreUnavailable, key, err)
	}
	return true, nil
}

// wrapStoreErr classifies errors escaping a store transaction. Domain errors
// pass through untouched; anything else is a backend failure.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if isDomainErr(err) || errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
