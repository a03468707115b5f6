package validators

import (
	"strings"
)

// IDKind selects the checksum algorithm for a national identity number.
type IDKind string

const (
	Person  IDKind = "PERSON"  // CPF, 11 digits
	Company IDKind = "COMPANY" // CNPJ, 14 digits
)

var cnpjWeightsFirst = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
var cnpjWeightsSecond = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

// OnlyDigits strips every non-digit rune from s.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateNationalID checks a CPF or CNPJ by its two verification digits.
// An empty input is valid: a not-yet-provided document must not surface an
// error on a partially filled form. Only non-empty malformed input fails.
func ValidateNationalID(kind IDKind, raw string) bool {
	digits := OnlyDigits(raw)
	if digits == "" {
		return true
	}
	switch kind {
	case Person:
		return validCPF(digits)
	case Company:
		return validCNPJ(digits)
	}
	return false
}

func validCPF(digits string) bool {
	if len(digits) != 11 {
		return false
	}
	if allEqual(digits) {
		return false
	}
	// First pass: weights 10..2 over the nine base digits.
	first := cpfDigit(digits[:9], 10)
	if int(digits[9]-'0') != first {
		return false
	}
	// Second pass includes the already-validated first check digit.
	second := cpfDigit(digits[:10], 11)
	return int(digits[10]-'0') == second
}

// cpfDigit computes one CPF verification digit. A result above 9 maps to 0.
func cpfDigit(digits string, startWeight int) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (startWeight - i)
	}
	d := 11 - sum%11
	if d > 9 {
		return 0
	}
	return d
}

func validCNPJ(digits string) bool {
	if len(digits) != 14 {
		return false
	}
	first := cnpjDigit(digits[:12], cnpjWeightsFirst)
	if int(digits[12]-'0') != first {
		return false
	}
	second := cnpjDigit(digits[:13], cnpjWeightsSecond)
	return int(digits[13]-'0') == second
}

// cnpjDigit computes one CNPJ verification digit: remainder below 2 maps
// to 0, anything else to 11 minus the remainder.
func cnpjDigit(digits string, weights []int) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

func allEqual(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}
