// Package validation evaluates candidate usernames and credential values against
// policy rule sets. Evaluation is pure: the same inputs produce the same ordered
// failure list. Uniqueness and history lookups are supplied through the context,
// never performed here.
package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// Failure identifies one violated rule. Values match the engine's public
// ValidationFailure codes.
type Failure string

const (
	FailureTooShort                 Failure = "TOO_SHORT"
	FailureTooLong                  Failure = "TOO_LONG"
	FailureEmpty                    Failure = "EMPTY"
	FailureInsufficientLowercase    Failure = "INSUFFICIENT_LOWERCASE"
	FailureInsufficientUppercase    Failure = "INSUFFICIENT_UPPERCASE"
	FailureInsufficientDigit        Failure = "INSUFFICIENT_DIGIT"
	FailureInsufficientSpecial      Failure = "INSUFFICIENT_SPECIAL"
	FailureInsufficientAlphabetical Failure = "INSUFFICIENT_ALPHABETICAL"
	FailureAllowedCharFailed        Failure = "ALLOWED_CHAR_FAILED"
	FailureIllegalChar              Failure = "ILLEGAL_CHAR"
	FailureAllowedMatchFailed       Failure = "ALLOWED_MATCH_FAILED"
	FailureIllegalMatch             Failure = "ILLEGAL_MATCH"
	FailureWhitespace               Failure = "WHITESPACE"
	FailureContainsUsername         Failure = "CONTAINS_USERNAME"
	FailureUsernameExists           Failure = "USERNAME_EXISTS"
	FailureHistoryCheckFailed       Failure = "HISTORY_CHECK_FAILED"
)

// Rules is the rule set active for one validation run. Zero values disable the
// corresponding rule.
type Rules struct {
	LengthMin int
	LengthMax int

	MinLowercase    int
	MinUppercase    int
	MinDigits       int
	MinSpecial      int
	MinAlphabetical int

	AllowedChars string
	IllegalChars string
	AllowedRegex string
	IllegalRegex string

	RejectWhitespace bool
	RejectUsername   bool
}

// Context carries the lookups a single run may consult. UsernameExists is only
// consulted in username mode; HistoryMatch only in credential mode.
type Context struct {
	// Username is the companion username when validating a credential value.
	Username string
	// UsernameExists reports whether the candidate username is already taken.
	UsernameExists func(candidate string) bool
	// HistoryMatch reports whether the candidate equals any recorded prior value.
	HistoryMatch func(candidate string) bool
}

// ValidateCredential evaluates a credential candidate. All rules are evaluated
// independently; the returned slice holds every violated rule in evaluation
// order: length, character-class minimums, character sets, regex, whitespace,
// username containment, history reuse.
func ValidateCredential(candidate string, rules Rules, ctx Context) ([]Failure, error) {
	failures, err := validateCommon(candidate, rules, ctx)
	if err != nil {
		return nil, err
	}
	if ctx.HistoryMatch != nil && candidate != "" && ctx.HistoryMatch(candidate) {
		failures = append(failures, FailureHistoryCheckFailed)
	}
	return failures, nil
}

// ValidateUsername evaluates a username candidate. The username-exists rule runs
// after all character rules, mirroring credential-history ordering.
func ValidateUsername(candidate string, rules Rules, ctx Context) ([]Failure, error) {
	failures, err := validateCommon(candidate, rules, ctx)
	if err != nil {
		return nil, err
	}
	if ctx.UsernameExists != nil && candidate != "" && ctx.UsernameExists(candidate) {
		failures = append(failures, FailureUsernameExists)
	}
	return failures, nil
}

func validateCommon(candidate string, rules Rules, ctx Context) ([]Failure, error) {
	var failures []Failure

	runes := []rune(candidate)
	if len(runes) == 0 {
		failures = append(failures, FailureEmpty)
	} else {
		if rules.LengthMin > 0 && len(runes) < rules.LengthMin {
			failures = append(failures, FailureTooShort)
		}
		if rules.LengthMax > 0 && len(runes) > rules.LengthMax {
			failures = append(failures, FailureTooLong)
		}
	}

	var lower, upper, digit, special, alpha int
	for _, r := range runes {
		switch {
		case unicode.IsLower(r):
			lower++
			alpha++
		case unicode.IsUpper(r):
			upper++
			alpha++
		case unicode.IsDigit(r):
			digit++
		default:
			special++
		}
	}
	if rules.MinLowercase > 0 && lower < rules.MinLowercase {
		failures = append(failures, FailureInsufficientLowercase)
	}
	if rules.MinUppercase > 0 && upper < rules.MinUppercase {
		failures = append(failures, FailureInsufficientUppercase)
	}
	if rules.MinDigits > 0 && digit < rules.MinDigits {
		failures = append(failures, FailureInsufficientDigit)
	}
	if rules.MinSpecial > 0 && special < rules.MinSpecial {
		failures = append(failures, FailureInsufficientSpecial)
	}
	if rules.MinAlphabetical > 0 && alpha < rules.MinAlphabetical {
		failures = append(failures, FailureInsufficientAlphabetical)
	}

	if rules.AllowedChars != "" {
		for _, r := range runes {
			if !strings.ContainsRune(rules.AllowedChars, r) {
				failures = append(failures, FailureAllowedCharFailed)
				break
			}
		}
	}
	if rules.IllegalChars != "" && strings.ContainsAny(candidate, rules.IllegalChars) {
		failures = append(failures, FailureIllegalChar)
	}

	if rules.AllowedRegex != "" {
		re, err := regexp.Compile(rules.AllowedRegex)
		if err != nil {
			return nil, err
		}
		if !re.MatchString(candidate) {
			failures = append(failures, FailureAllowedMatchFailed)
		}
	}
	if rules.IllegalRegex != "" {
		re, err := regexp.Compile(rules.IllegalRegex)
		if err != nil {
			return nil, err
		}
		if re.MatchString(candidate) {
			failures = append(failures, FailureIllegalMatch)
		}
	}

	if rules.RejectWhitespace && strings.IndexFunc(candidate, unicode.IsSpace) >= 0 {
		failures = append(failures, FailureWhitespace)
	}

	if rules.RejectUsername && ctx.Username != "" && candidate != "" {
		lowered := strings.ToLower(candidate)
		username := strings.ToLower(ctx.Username)
		if strings.Contains(lowered, username) || strings.Contains(lowered, reverse(username)) {
			failures = append(failures, FailureContainsUsername)
		}
	}

	return failures, nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
