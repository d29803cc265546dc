package validation

import "testing"

func assertFailures(t *testing.T, got []Failure, want ...Failure) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("failures = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("failure %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestValidateLengthBounds(t *testing.T) {
	rules := Rules{LengthMin: 4, LengthMax: 8}

	got, err := ValidateUsername("abc", rules, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureTooShort)

	got, err = ValidateUsername("abcdefghi", rules, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureTooLong)

	got, err = ValidateUsername("abcd", rules, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got)
}

func TestValidateEmptySkipsLengthRules(t *testing.T) {
	got, err := ValidateUsername("", Rules{LengthMin: 4}, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureEmpty)
}

func TestValidateCharacterClassMinimums(t *testing.T) {
	rules := Rules{MinLowercase: 1, MinUppercase: 1, MinDigits: 1, MinSpecial: 1, MinAlphabetical: 3}

	got, err := ValidateCredential("aB1!cd", rules, Context{})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got)

	got, err = ValidateCredential("1234", rules, Context{})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got,
		FailureInsufficientLowercase,
		FailureInsufficientUppercase,
		FailureInsufficientSpecial,
		FailureInsufficientAlphabetical,
	)
}

func TestValidateCharacterSets(t *testing.T) {
	got, err := ValidateCredential("abc$", Rules{AllowedChars: "abcdef"}, Context{})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureAllowedCharFailed)

	got, err = ValidateCredential("abc$", Rules{IllegalChars: "$%"}, Context{})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureIllegalChar)
}

func TestValidateRegexRules(t *testing.T) {
	got, err := ValidateUsername("alice99", Rules{AllowedRegex: `^[a-z]+$`}, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureAllowedMatchFailed)

	got, err = ValidateUsername("admin-root", Rules{IllegalRegex: `admin`}, Context{})
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureIllegalMatch)

	if _, err := ValidateUsername("x", Rules{AllowedRegex: `([`}, Context{}); err == nil {
		t.Fatalf("expected error for invalid regex")
	}
}

func TestValidateWhitespace(t *testing.T) {
	got, err := ValidateCredential("pass word", Rules{RejectWhitespace: true}, Context{})
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureWhitespace)
}

func TestValidateUsernameContainment(t *testing.T) {
	rules := Rules{RejectUsername: true}
	ctx := Context{Username: "Alice"}

	got, err := ValidateCredential("xxALICExx", rules, ctx)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureContainsUsername)

	// The reversed username is rejected too.
	got, err = ValidateCredential("xxecilaxx", rules, ctx)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureContainsUsername)

	got, err = ValidateCredential("unrelated", rules, ctx)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got)
}

func TestValidateUsernameExistsLookup(t *testing.T) {
	ctx := Context{UsernameExists: func(candidate string) bool { return candidate == "taken" }}

	got, err := ValidateUsername("taken", Rules{}, ctx)
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got, FailureUsernameExists)

	got, err = ValidateUsername("free", Rules{}, ctx)
	if err != nil {
		t.Fatalf("ValidateUsername: %v", err)
	}
	assertFailures(t, got)
}

func TestValidateCredentialHistoryLookup(t *testing.T) {
	ctx := Context{HistoryMatch: func(candidate string) bool { return candidate == "oldvalue" }}

	got, err := ValidateCredential("oldvalue", Rules{}, ctx)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got, FailureHistoryCheckFailed)
}

func TestValidateCollectsAllViolationsInOrder(t *testing.T) {
	rules := Rules{LengthMin: 10, MinDigits: 1, RejectWhitespace: true}
	ctx := Context{HistoryMatch: func(candidate string) bool { return true }}

	got, err := ValidateCredential("a b", rules, ctx)
	if err != nil {
		t.Fatalf("ValidateCredential: %v", err)
	}
	assertFailures(t, got,
		FailureTooShort,
		FailureInsufficientDigit,
		FailureWhitespace,
		FailureHistoryCheckFailed,
	)
}
