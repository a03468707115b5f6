package validators

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// FieldError describes one invalid field for inline rendering.
type FieldError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateField checks a single field value against the validator selected
// by its key. Every validator treats a blank value as valid so that partly
// filled forms never show spurious errors. The returned message is empty
// when the value passes.
func ValidateField(key, value string) (bool, string) {
	if strings.TrimSpace(value) == "" {
		return true, ""
	}
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "cnpj"):
		if !ValidateNationalID(Company, value) {
			return false, "invalid CNPJ"
		}
	case strings.Contains(k, "cpf"):
		if !ValidateNationalID(Person, value) {
			return false, "invalid CPF"
		}
	case strings.Contains(k, "cep") || strings.Contains(k, "postal"):
		if len(OnlyDigits(value)) != 8 {
			return false, "postal code must have 8 digits"
		}
	case strings.Contains(k, "phone") || strings.Contains(k, "telefone"):
		if n := len(OnlyDigits(value)); n < 10 || n > 11 {
			return false, "phone must have 10 or 11 digits"
		}
	case strings.Contains(k, "email"):
		if !emailPattern.MatchString(strings.TrimSpace(value)) {
			return false, "invalid email address"
		}
	case strings.Contains(k, "date") || strings.HasPrefix(k, "data_") || strings.HasSuffix(k, "_data"):
		if _, err := time.Parse("02/01/2006", strings.TrimSpace(value)); err != nil {
			return false, "date must be dd/mm/yyyy"
		}
	}
	return true, ""
}

// ValidateForm runs ValidateField over every field and checks required keys.
// Required fields fail when left blank; everything else follows the
// empty-is-valid rule.
func ValidateForm(fields map[string]string, required []string) []FieldError {
	var errs []FieldError
	for key, value := range fields {
		if ok, msg := ValidateField(key, value); !ok {
			errs = append(errs, FieldError{Key: key, Message: msg})
		}
	}
	for _, key := range required {
		if strings.TrimSpace(fields[key]) == "" {
			errs = append(errs, FieldError{Key: key, Message: "required field is empty"})
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Key < errs[j].Key })
	return errs
}
