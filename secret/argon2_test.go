package secret

import (
	"strings"
	"testing"
)

func secureConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("S3cr3t-Value")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("S3cr3t-Value", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected verification to succeed")
	}
}

func TestVerifyWrongValue(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("correct-value")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-value", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong value verification to fail")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	for _, encoded := range []string{
		"",
		"not-a-phc-string",
		"$argon2i$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$bogus$c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("value", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	weak := []Config{
		{Memory: 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 0, Parallelism: 2, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 8, KeyLength: 32},
		{Memory: 65536, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range weak {
		if _, err := NewArgon2(cfg); err == nil {
			t.Fatalf("config %d: expected rejection", i)
		}
	}
}

func TestHashRejectsEmptyValue(t *testing.T) {
	hasher, err := NewArgon2(secureConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	if _, err := hasher.Hash(""); err == nil {
		t.Fatal("expected error for empty value")
	}
}
