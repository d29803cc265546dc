package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"testing"
)

func testEnvelope(t *testing.T) *Envelope {
	t.Helper()
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	envelope, err := NewEnvelope(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewEnvelope error: %v", err)
	}
	return envelope
}

func TestEnvelopeSealOpenRoundTrip(t *testing.T) {
	envelope := testEnvelope(t)

	sealed, err := envelope.Seal("presented-value-1234")
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	plain, err := envelope.Open(sealed)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if plain != "presented-value-1234" {
		t.Fatalf("expected original plaintext, got %q", plain)
	}
}

func TestEnvelopeOpenMalformed(t *testing.T) {
	envelope := testEnvelope(t)

	for _, input := range []string{
		"",
		"no-colon",
		"!!!:AAAA",
		"AAAA:!!!",
		base64.StdEncoding.EncodeToString([]byte("short")) + ":AAAA",
	} {
		if _, err := envelope.Open(input); !errors.Is(err, ErrEnvelopeMalformed) {
			t.Fatalf("expected ErrEnvelopeMalformed for %q, got %v", input, err)
		}
	}
}

func TestEnvelopeOpenWrongKey(t *testing.T) {
	sender := testEnvelope(t)
	receiver := testEnvelope(t)

	sealed, err := sender.Seal("value")
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if _, err := receiver.Open(sealed); !errors.Is(err, ErrEnvelopeMalformed) {
		t.Fatalf("expected ErrEnvelopeMalformed under a different key, got %v", err)
	}
}

func TestNewEnvelopeRejectsBadKey(t *testing.T) {
	if _, err := NewEnvelope("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64 key")
	}
	if _, err := NewEnvelope(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for invalid key length")
	}
}
