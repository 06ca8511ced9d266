package molecule

import (
	"strconv"
	"strings"

	"github.com/turtacn/molident/pkg/errors"
)

// ErrInvalidCAS is returned for malformed registry numbers and check digit
// mismatches.
var ErrInvalidCAS = errors.New(errors.ErrCodeInvalidCAS, "invalid CAS registry number")

// casCheckDigit weights the digits of n from the right starting at 1.
func casCheckDigit(n uint32) uint32 {
	var sum, weight uint32 = 0, 1
	for n > 0 {
		sum += (n % 10) * weight
		n /= 10
		weight++
	}
	return sum % 10
}

// ParseCAS parses "7732-18-5" or "7732185" into the registry number without
// its check digit (773218). ok is false when the text is malformed or the check
// digit does not match; 0 with ok=true is a valid result.
func ParseCAS(s string) (uint32, bool) {
	digits := strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(digits) < 2 {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(digits[:len(digits)-1], 10, 32)
	if err != nil {
		return 0, false
	}
	check := uint32(digits[len(digits)-1] - '0')
	if casCheckDigit(uint32(n)) != check {
		return 0, false
	}
	return uint32(n), true
}

// ParseCASStrict is ParseCAS with an error result for callers that propagate
// failures.
func ParseCASStrict(s string) (uint32, error) {
	n, ok := ParseCAS(s)
	if !ok {
		return 0, ErrInvalidCAS.WithDetail(s)
	}
	return n, nil
}

// FormatCAS renders a registry number with its check digit, as
// "NNNNNN-NN-D" when withDashes is set and as plain digits otherwise.
func FormatCAS(cas uint32, withDashes bool) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(uint64(cas/100), 10))
	if withDashes {
		sb.WriteByte('-')
	}
	tail := cas % 100
	sb.WriteByte(byte('0' + tail/10))
	sb.WriteByte(byte('0' + tail%10))
	if withDashes {
		sb.WriteByte('-')
	}
	sb.WriteByte(byte('0' + casCheckDigit(cas)))
	return sb.String()
}
