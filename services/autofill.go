package services

import (
	"fmt"

	"go.uber.org/zap"

	"petition-hand/validators"
)

// autofillSuffixes is the fixed attribute-to-field-suffix table. Combined
// with the entity prefix it yields the destination field name for each
// identity attribute.
var autofillSuffixes = []struct {
	attr   string
	suffix string
}{
	{"name", "name"},
	{"cpf", "cpf"},
	{"cnpj", "cnpj"},
	{"rg", "rg"},
	{"cnh", "cnh"},
	{"birth_date", "birth_date"},
	{"nationality", "nationality"},
	{"marital_status", "marital_status"},
	{"profession", "profession"},
	{"acronym", "acronym"},
	{"sphere", "sphere"},
	{"email", "email"},
	{"phone", "phone"},
	{"street", "street"},
	{"number", "number"},
	{"complement", "complement"},
	{"district", "district"},
	{"city", "city"},
	{"state", "state"},
	{"postal_code", "postal_code"},
}

// Autofill writes resolved identity attributes into a form session.
type Autofill struct {
	Logger *zap.Logger
}

// NewAutofill creates the mapper.
func NewAutofill(logger *zap.Logger) *Autofill {
	return &Autofill{Logger: logger}
}

// Apply maps the identity's attributes onto the session's fields. A field
// is written only when the source attribute is non-empty and either
// overwrite was requested or the destination is still empty, so autofill
// never clobbers a manual edit. After all values are stable each written
// field gets its input mask and validation re-run exactly once. Returns
// the number of fields written and any validation errors found.
func (a *Autofill) Apply(session *FormSession, identity Identity, entityIndex *int, overwrite bool) (int, []validators.FieldError) {
	prefix := ""
	if entityIndex != nil {
		prefix = fmt.Sprintf("entity_%d_", *entityIndex)
	}

	session.BeginBulk()

	var written []string
	for _, m := range autofillSuffixes {
		source := identity.Attributes[m.attr]
		if source == "" {
			continue
		}
		field := prefix + m.suffix
		if !overwrite && session.Value(field) != "" {
			continue
		}
		session.SetField(field, source, true)
		written = append(written, field)
	}

	// Masking and validation run once per field, after the raw values
	// settled, never interleaved with the writes.
	var errs []validators.FieldError
	for _, field := range written {
		value := session.Value(field)
		if masked := validators.FormatField(field, value); masked != value {
			session.SetField(field, masked, true)
		}
		if ok, msg := validators.ValidateField(field, session.Value(field)); !ok {
			errs = append(errs, validators.FieldError{Key: field, Message: msg})
		}
	}

	session.EndBulk(len(written) > 0)

	a.Logger.Info("autofill applied",
		zap.String("slug", session.Slug),
		zap.String("kind", identity.Kind),
		zap.String("prefix", prefix),
		zap.Int("fields_written", len(written)))
	return len(written), errs
}
