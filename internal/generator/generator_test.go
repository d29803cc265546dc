package generator

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode"
)

func TestRandomDigits(t *testing.T) {
	got, err := RandomDigits(8)
	if err != nil {
		t.Fatalf("RandomDigits: %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	for _, r := range got {
		if !unicode.IsDigit(r) {
			t.Fatalf("non-digit %q in %q", r, got)
		}
	}
	if _, err := RandomDigits(0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("RandomDigits(0) = %v, want ErrInvalidConfig", err)
	}
}

func TestRandomLetters(t *testing.T) {
	got, err := RandomLetters(12)
	if err != nil {
		t.Fatalf("RandomLetters: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	for _, r := range got {
		if !unicode.IsLower(r) {
			t.Fatalf("non-lowercase %q in %q", r, got)
		}
	}
	if _, err := RandomLetters(-1); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("RandomLetters(-1) = %v, want ErrInvalidConfig", err)
	}
}

func countClasses(s string) (lower, upper, digit, special int) {
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower++
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r):
			digit++
		default:
			special++
		}
	}
	return
}

func TestRandomPasswordExactClassCounts(t *testing.T) {
	got, err := RandomPassword(PasswordParam{SmallLetters: 4, CapitalLetters: 3, Digits: 2, SpecialChars: 1})
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	lower, upper, digit, special := countClasses(got)
	if lower != 4 || upper != 3 || digit != 2 || special != 1 {
		t.Fatalf("class counts %d/%d/%d/%d in %q, want 4/3/2/1", lower, upper, digit, special, got)
	}
}

func TestRandomPasswordPadsToLength(t *testing.T) {
	got, err := RandomPassword(PasswordParam{Length: 12, Digits: 2})
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	lower, _, digit, _ := countClasses(got)
	if digit != 2 || lower != 10 {
		t.Fatalf("class counts lower=%d digit=%d in %q, want 10/2", lower, digit, got)
	}
}

func TestRandomPasswordRejectsInconsistentParams(t *testing.T) {
	cases := []PasswordParam{
		{},
		{Length: 4, SmallLetters: 3, Digits: 2},
	}
	for i, param := range cases {
		if _, err := RandomPassword(param); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: err = %v, want ErrInvalidConfig", i, err)
		}
	}
}

func TestRandomPIN(t *testing.T) {
	got, err := RandomPIN(4)
	if err != nil {
		t.Fatalf("RandomPIN: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for _, r := range got {
		if !unicode.IsDigit(r) {
			t.Fatalf("non-digit %q in %q", r, got)
		}
	}
}

func TestOtpDataDigestDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	first, err := OtpDataDigest("A1*R1", salt, 8)
	if err != nil {
		t.Fatalf("OtpDataDigest: %v", err)
	}
	second, err := OtpDataDigest("A1*R1", salt, 8)
	if err != nil {
		t.Fatalf("OtpDataDigest: %v", err)
	}
	if first != second {
		t.Fatalf("same inputs produced %q and %q", first, second)
	}
	if len(first) != 8 {
		t.Fatalf("len = %d, want 8", len(first))
	}
	for _, r := range first {
		if !unicode.IsDigit(r) {
			t.Fatalf("non-digit %q in %q", r, first)
		}
	}

	otherSalt, err := OtpDataDigest("A1*R1", []byte("fedcba9876543210"), 8)
	if err != nil {
		t.Fatalf("OtpDataDigest: %v", err)
	}
	otherData, err := OtpDataDigest("A2*R2", salt, 8)
	if err != nil {
		t.Fatalf("OtpDataDigest: %v", err)
	}
	if first == otherSalt && first == otherData {
		t.Fatalf("digest ignores salt and data")
	}
}

func TestOtpDataDigestLongerThanOneDigest(t *testing.T) {
	// 12 digits need 48 digest bytes, past a single SHA-256 output.
	got, err := OtpDataDigest("A1*R1", []byte("salt"), 12)
	if err != nil {
		t.Fatalf("OtpDataDigest: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	if _, err := OtpDataDigest("A1*R1", []byte("salt"), 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero length = %v, want ErrInvalidConfig", err)
	}
}

func TestOtpRandomDigitGroups(t *testing.T) {
	got, err := OtpRandomDigitGroups(12, 4)
	if err != nil {
		t.Fatalf("OtpRandomDigitGroups: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
	for i := 4; i < len(got); i += 4 {
		if got[i-4:i] == got[i:i+4] {
			t.Fatalf("adjacent groups repeat in %q", got)
		}
	}
	if strings.IndexFunc(got, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		t.Fatalf("non-digit in %q", got)
	}

	if _, err := OtpRandomDigitGroups(10, 4); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("indivisible length = %v, want ErrInvalidConfig", err)
	}
}

func TestSalt(t *testing.T) {
	a, err := Salt(16)
	if err != nil {
		t.Fatalf("Salt: %v", err)
	}
	b, err := Salt(16)
	if err != nil {
		t.Fatalf("Salt: %v", err)
	}
	if len(a) != 16 || len(b) != 16 {
		t.Fatalf("lengths %d/%d, want 16", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two salts are identical")
	}
}
