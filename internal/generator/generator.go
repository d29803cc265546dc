// Package generator produces usernames, credential values, and one-time passwords
// according to policy algorithms. All randomness comes from crypto/rand. Generated
// usernames and credentials are re-validated by the caller against the same policy;
// an unsatisfiable generation/validation pairing is a configuration error.
package generator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"
	specialChars   = "!@#$%^&*_-+=."
)

// ErrInvalidConfig is returned when generation parameters are internally
// inconsistent, e.g. per-class counts that do not sum to the requested length.
var ErrInvalidConfig = errors.New("inconsistent generation parameters")

// PasswordParam holds exact per-class counts for RANDOM_PASSWORD generation.
// When Length is set it must equal the sum of the class counts; when it exceeds
// the sum, the remainder is padded with lowercase letters.
type PasswordParam struct {
	Length         int
	SmallLetters   int
	CapitalLetters int
	Digits         int
	SpecialChars   int
}

// RandomDigits returns length random decimal digits.
func RandomDigits(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: digit length %d", ErrInvalidConfig, length)
	}
	return randomFrom(digitChars, length)
}

// RandomLetters returns length random lowercase letters.
func RandomLetters(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: letter length %d", ErrInvalidConfig, length)
	}
	return randomFrom(lowercaseChars, length)
}

// RandomPassword draws the exact per-class counts, pads with lowercase letters up
// to Length when the counts fall short, and shuffles the result.
func RandomPassword(param PasswordParam) (string, error) {
	sum := param.SmallLetters + param.CapitalLetters + param.Digits + param.SpecialChars
	if sum <= 0 && param.Length <= 0 {
		return "", fmt.Errorf("%w: empty password parameters", ErrInvalidConfig)
	}
	if param.Length > 0 && sum > param.Length {
		return "", fmt.Errorf("%w: class counts %d exceed length %d", ErrInvalidConfig, sum, param.Length)
	}

	var b strings.Builder
	classes := []struct {
		chars string
		count int
	}{
		{lowercaseChars, param.SmallLetters},
		{uppercaseChars, param.CapitalLetters},
		{digitChars, param.Digits},
		{specialChars, param.SpecialChars},
	}
	for _, c := range classes {
		s, err := randomFrom(c.chars, c.count)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	if param.Length > sum {
		pad, err := randomFrom(lowercaseChars, param.Length-sum)
		if err != nil {
			return "", err
		}
		b.WriteString(pad)
	}

	return shuffle(b.String())
}

// RandomPIN returns length random digits for PIN credentials.
func RandomPIN(length int) (string, error) {
	return RandomDigits(length)
}

// OtpDataDigest derives a fixed-length numeric OTP deterministically from a
// SHA-256 digest of the operation data and a random salt.
func OtpDataDigest(data string, salt []byte, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: otp length %d", ErrInvalidConfig, length)
	}
	digest := sha256.New()
	digest.Write(salt)
	digest.Write([]byte(data))
	sum := digest.Sum(nil)

	out := make([]byte, length)
	for i := 0; i < length; i++ {
		// Consume 4 digest bytes per digit, rehashing when the digest runs out.
		if (i+1)*4 > len(sum) {
			next := sha256.Sum256(sum)
			sum = append(sum, next[:]...)
		}
		v := binary.BigEndian.Uint32(sum[i*4 : i*4+4])
		out[i] = digitChars[v%10]
	}
	return string(out), nil
}

// OtpRandomDigitGroups returns length random digits such that no two adjacent
// groups of groupSize digits are identical, regenerating the offending group on
// collision.
func OtpRandomDigitGroups(length, groupSize int) (string, error) {
	if length <= 0 || groupSize <= 0 || length%groupSize != 0 {
		return "", fmt.Errorf("%w: length %d not divisible into groups of %d", ErrInvalidConfig, length, groupSize)
	}
	groups := make([]string, length/groupSize)
	for i := range groups {
		for {
			g, err := randomFrom(digitChars, groupSize)
			if err != nil {
				return "", err
			}
			if i > 0 && g == groups[i-1] {
				continue
			}
			groups[i] = g
			break
		}
	}
	return strings.Join(groups, ""), nil
}

// Salt returns n random bytes for OTP value hashing.
func Salt(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func randomFrom(chars string, count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	max := big.NewInt(int64(len(chars)))
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = chars[idx.Int64()]
	}
	return string(out), nil
}

func shuffle(s string) (string, error) {
	runes := []byte(s)
	for i := len(runes) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		runes[i], runes[int(j.Int64())] = runes[int(j.Int64())], runes[i]
	}
	return string(runes), nil
}
