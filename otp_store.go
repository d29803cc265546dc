package nextstep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// otpStore persists one-time passwords. An operation-bound OTP is tracked by an
// active-pointer key so that at most one ACTIVE OTP exists per operation;
// creating a replacement flips the previous one to REMOVED in the same
// transaction that installs the new pointer.
type otpStore struct {
	rdb        *redis.Client
	keys       storeKeys
	maxRetries int
}

func newOtpStore(rdb *redis.Client, keys storeKeys, maxRetries int) *otpStore {
	return &otpStore{rdb: rdb, keys: keys, maxRetries: maxRetries}
}

// Create inserts the OTP. When the OTP is bound to an operation and an ACTIVE
// one already exists there, the old one is superseded; its ID is returned so
// the caller can audit the replacement.
func (s *otpStore) Create(ctx context.Context, o *Otp) (superseded string, err error) {
	otpKey := s.keys.otp(o.OtpID)
	if o.OperationID == "" {
		if err := storeCreateJSON(ctx, s.rdb, otpKey, o, ErrOtpExists); err != nil {
			return "", err
		}
		return "", nil
	}

	activeKey := s.keys.otpActive(o.OperationID)
	err = storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		superseded = ""
		exists, err := tx.Exists(ctx, otpKey).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists > 0 {
			return ErrOtpExists
		}

		var previous *Otp
		previousID, err := tx.Get(ctx, activeKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if err == nil {
			var old Otp
			found, err := txGetJSON(ctx, tx, s.keys.otp(previousID), &old)
			if err != nil {
				return err
			}
			if found && old.Status == OtpActive {
				old.Status = OtpRemoved
				previous = &old
			}
		}

		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		var previousData []byte
		if previous != nil {
			previousData, err = json.Marshal(previous)
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if previousData != nil {
				pipe.Set(ctx, s.keys.otp(previous.OtpID), previousData, 0)
			}
			pipe.Set(ctx, otpKey, data, 0)
			pipe.Set(ctx, activeKey, o.OtpID, 0)
			pipe.SAdd(ctx, s.keys.otpsByOperation(o.OperationID), o.OtpID)
			return nil
		})
		if err != nil {
			return err
		}
		if previous != nil {
			superseded = previous.OtpID
		}
		return nil
	}, otpKey, activeKey)

	if err != nil {
		return "", wrapStoreErr(err)
	}
	return superseded, nil
}

func (s *otpStore) Get(ctx context.Context, otpID string) (*Otp, error) {
	var o Otp
	found, err := storeGetJSON(ctx, s.rdb, s.keys.otp(otpID), &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOtpNotFound
	}
	return &o, nil
}

// ActiveForOperation resolves the operation's current ACTIVE OTP.
func (s *otpStore) ActiveForOperation(ctx context.Context, operationID string) (*Otp, error) {
	id, err := s.rdb.Get(ctx, s.keys.otpActive(operationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOtpNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != OtpActive {
		return nil, ErrOtpNotFound
	}
	return o, nil
}

func (s *otpStore) ListByOperation(ctx context.Context, operationID string) ([]*Otp, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.otpsByOperation(operationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	otps := make([]*Otp, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrOtpNotFound) {
				continue
			}
			return nil, err
		}
		otps = append(otps, o)
	}
	return otps, nil
}

// Update applies fn under optimistic concurrency control. When the OTP leaves
// ACTIVE status the operation's active pointer is cleared if it still points at
// this OTP.
func (s *otpStore) Update(
	ctx context.Context,
	otpID string,
	fn func(o *Otp) error,
) (*Otp, error) {
	otpKey := s.keys.otp(otpID)

	var updated *Otp
	err := storeUpdate(ctx, s.rdb, s.maxRetries, func(tx *redis.Tx) error {
		var o Otp
		found, err := txGetJSON(ctx, tx, otpKey, &o)
		if err != nil {
			return err
		}
		if !found {
			return ErrOtpNotFound
		}

		wasActive := o.Status == OtpActive
		if err := fn(&o); err != nil {
			return err
		}

		clearPointer := false
		if wasActive && o.Status != OtpActive && o.OperationID != "" {
			current, err := tx.Get(ctx, s.keys.otpActive(o.OperationID)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			clearPointer = err == nil && current == o.OtpID
		}

		data, err := json.Marshal(&o)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, otpKey, data, 0)
			if clearPointer {
				pipe.Del(ctx, s.keys.otpActive(o.OperationID))
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = &o
		return nil
	}, otpKey)

	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}
