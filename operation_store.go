package nextstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// operationStore persists operations and their append-only history. History
// entries live in a Redis list next to the operation record; the resultId of a
// new entry is derived from the list length inside the same WATCH transaction
// that writes the operation, which keeps the sequence strictly increasing even
// under concurrent updates.
type operationStore struct {
	rdb        *redis.Client
	keys       storeKeys
	maxRetries int
}

func newOperationStore(rdb *redis.Client, keys storeKeys, maxRetries int) *operationStore {
	return &operationStore{rdb: rdb, keys: keys, maxRetries: maxRetries}
}

func (s *operationStore) Create(ctx context.Context, op *Operation) error {
	if err := storeCreateJSON(ctx, s.rdb, s.keys.operation(op.OperationID), op, ErrOperationExists); err != nil {
		return err
	}
	if op.UserID != "" {
		if err := s.rdb.SAdd(ctx, s.keys.operationsByUser(op.UserID), op.OperationID).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (s *operationStore) Get(ctx context.Context, operationID string) (*Operation, error) {
	var op Operation
	found, err := storeGetJSON(ctx, s.rdb, s.keys.operation(operationID), &op)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOperationNotFound
	}
	return &op, nil
}

func (s *operationStore) History(ctx context.Context, operationID string) ([]OperationHistory, error) {
	rows, err := s.rdb.LRange(ctx, s.keys.operationHistory(operationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	history := make([]OperationHistory, 0, len(rows))
	for _, row := range rows {
		var entry OperationHistory
		if err := json.Unmarshal([]byte(row), &entry); err != nil {
			return nil, fmt.Errorf("%w: corrupt history for operation %s: %v", ErrStoreUnavailable, operationID, err)
		}
		history = append(history, entry)
	}
	return history, nil
}

func (s *operationStore) ListByUser(ctx context.Context, userID string) ([]*Operation, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.operationsByUser(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	operations := make([]*Operation, 0, len(ids))
	for _, id := range ids {
		op, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOperationNotFound) {
				continue
			}
			return nil, err
		}
		operations = append(operations, op)
	}
	return operations, nil
}

// Update applies fn to the operation under optimistic concurrency control. fn
// receives the current record and the resultId the next history entry would
// take; returning a non-nil entry appends it atomically with the record write.
// fn runs again on each conflict retry, so it must not carry state between
// invocations.
func (s *operationStore) Update(
	ctx context.Context,
	operationID string,
	fn func(op *Operation, nextResultID int64) (*OperationHistory, error),
) (*Operation, error) {
	opKey := s.keys.operation(operationID)
	histKey := s.keys.operationHistory(operationID)

	var updated *Operation
	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		var op Operation
		found, err := txGetJSON(ctx, tx, opKey, &op)
		if err != nil {
			return err
		}
		if !found {
			return ErrOperationNotFound
		}

		length, err := tx.LLen(ctx, histKey).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		previousUser := op.UserID
		entry, err := fn(&op, length+1)
		if err != nil {
			return err
		}

		data, err := json.Marshal(&op)
		if err != nil {
			return err
		}
		var entryData []byte
		if entry != nil {
			entry.ResultID = length + 1
			entryData, err = json.Marshal(entry)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, opKey, data, 0)
			if entryData != nil {
				pipe.RPush(ctx, histKey, entryData)
			}
			if op.UserID != "" && op.UserID != previousUser {
				pipe.SAdd(ctx, s.keys.operationsByUser(op.UserID), op.OperationID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = &op
		return nil
	}, opKey, histKey)

	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}
