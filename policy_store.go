package nextstep

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// policyStore persists credential and OTP policies plus the definitions that
// bind them to applications. Records are read far more often than written, so
// each kind keeps a name index set for enumeration and no CAS machinery beyond
// the usual existence checks.
type policyStore struct {
	rdb  *redis.Client
	keys storeKeys
}

func newPolicyStore(rdb *redis.Client, keys storeKeys) *policyStore {
	return &policyStore{rdb: rdb, keys: keys}
}

func (s *policyStore) createRecord(ctx context.Context, key, index, name string, v any, existsErr error) error {
	if err := storeCreateJSON(ctx, s.rdb, key, v, existsErr); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, index, name).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *policyStore) updateRecord(ctx context.Context, key string, v any, notFoundErr error) error {
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return notFoundErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *policyStore) deleteRecord(ctx context.Context, key, index, name string, notFoundErr error) error {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return notFoundErr
	}
	if err := s.rdb.SRem(ctx, index, name).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *policyStore) CreateCredentialPolicy(ctx context.Context, p *CredentialPolicy) error {
	return s.createRecord(ctx, s.keys.credentialPolicy(p.Name), s.keys.credentialPolicyIndex(), p.Name, p, ErrPolicyExists)
}

func (s *policyStore) GetCredentialPolicy(ctx context.Context, name string) (*CredentialPolicy, error) {
	var p CredentialPolicy
	found, err := storeGetJSON(ctx, s.rdb, s.keys.credentialPolicy(name), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPolicyNotFound
	}
	return &p, nil
}

func (s *policyStore) UpdateCredentialPolicy(ctx context.Context, p *CredentialPolicy) error {
	return s.updateRecord(ctx, s.keys.credentialPolicy(p.Name), p, ErrPolicyNotFound)
}

func (s *policyStore) DeleteCredentialPolicy(ctx context.Context, name string) error {
	return s.deleteRecord(ctx, s.keys.credentialPolicy(name), s.keys.credentialPolicyIndex(), name, ErrPolicyNotFound)
}

func (s *policyStore) CreateOtpPolicy(ctx context.Context, p *OtpPolicy) error {
	return s.createRecord(ctx, s.keys.otpPolicy(p.Name), s.keys.otpPolicyIndex(), p.Name, p, ErrPolicyExists)
}

func (s *policyStore) GetOtpPolicy(ctx context.Context, name string) (*OtpPolicy, error) {
	var p OtpPolicy
	found, err := storeGetJSON(ctx, s.rdb, s.keys.otpPolicy(name), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPolicyNotFound
	}
	return &p, nil
}

func (s *policyStore) UpdateOtpPolicy(ctx context.Context, p *OtpPolicy) error {
	return s.updateRecord(ctx, s.keys.otpPolicy(p.Name), p, ErrPolicyNotFound)
}

func (s *policyStore) DeleteOtpPolicy(ctx context.Context, name string) error {
	return s.deleteRecord(ctx, s.keys.otpPolicy(name), s.keys.otpPolicyIndex(), name, ErrPolicyNotFound)
}

func (s *policyStore) CreateCredentialDefinition(ctx context.Context, d *CredentialDefinition) error {
	return s.createRecord(ctx, s.keys.credentialDefinition(d.Name), s.keys.credentialDefinitionIndex(), d.Name, d, ErrDefinitionExists)
}

func (s *policyStore) GetCredentialDefinition(ctx context.Context, name string) (*CredentialDefinition, error) {
	var d CredentialDefinition
	found, err := storeGetJSON(ctx, s.rdb, s.keys.credentialDefinition(name), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDefinitionNotFound
	}
	return &d, nil
}

func (s *policyStore) UpdateCredentialDefinition(ctx context.Context, d *CredentialDefinition) error {
	return s.updateRecord(ctx, s.keys.credentialDefinition(d.Name), d, ErrDefinitionNotFound)
}

func (s *policyStore) DeleteCredentialDefinition(ctx context.Context, name string) error {
	return s.deleteRecord(ctx, s.keys.credentialDefinition(name), s.keys.credentialDefinitionIndex(), name, ErrDefinitionNotFound)
}

func (s *policyStore) CreateOtpDefinition(ctx context.Context, d *OtpDefinition) error {
	return s.createRecord(ctx, s.keys.otpDefinition(d.Name), s.keys.otpDefinitionIndex(), d.Name, d, ErrDefinitionExists)
}

func (s *policyStore) GetOtpDefinition(ctx context.Context, name string) (*OtpDefinition, error) {
	var d OtpDefinition
	found, err := storeGetJSON(ctx, s.rdb, s.keys.otpDefinition(name), &d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDefinitionNotFound
	}
	return &d, nil
}

func (s *policyStore) UpdateOtpDefinition(ctx context.Context, d *OtpDefinition) error {
	return s.updateRecord(ctx, s.keys.otpDefinition(d.Name), d, ErrDefinitionNotFound)
}

func (s *policyStore) DeleteOtpDefinition(ctx context.Context, name string) error {
	return s.deleteRecord(ctx, s.keys.otpDefinition(name), s.keys.otpDefinitionIndex(), name, ErrDefinitionNotFound)
}

func (s *policyStore) CountCredentialPolicies(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, s.keys.credentialPolicyIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *policyStore) CountOtpPolicies(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, s.keys.otpPolicyIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}
