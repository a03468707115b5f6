package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateField(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  bool
	}{
		{"empty cpf valid", "claimant_cpf", "", true},
		{"valid cpf", "claimant_cpf", "111.444.777-35", true},
		{"invalid cpf", "claimant_cpf", "123.456.789-00", false},
		{"empty postal valid", "address_cep", "", true},
		{"valid postal", "address_cep", "01310-100", true},
		{"short postal", "address_cep", "0131", false},
		{"valid phone", "contact_phone", "(11) 98765-4321", true},
		{"landline phone", "contact_phone", "1134567890", true},
		{"short phone", "contact_phone", "123456", false},
		{"valid email", "contact_email", "office@example.com.br", true},
		{"invalid email", "contact_email", "not-an-email", false},
		{"empty email valid", "contact_email", "", true},
		{"valid date", "hearing_date", "25/12/2025", true},
		{"invalid date", "hearing_date", "2025-12-25", false},
		{"unknown key always valid", "free_notes", "anything at all", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := ValidateField(tt.key, tt.value)
			if ok != tt.want {
				t.Errorf("ValidateField(%q, %q) = %v, want %v", tt.key, tt.value, ok, tt.want)
			}
		})
	}
}

func TestValidateForm(t *testing.T) {
	fields := map[string]string{
		"claimant_name": "Maria Souza",
		"claimant_cpf":  "123.456.789-00",
		"contact_email": "",
	}
	errs := ValidateForm(fields, []string{"claimant_name", "hearing_date"})

	assert.Len(t, errs, 2)
	assert.Equal(t, "claimant_cpf", errs[0].Key)
	assert.Equal(t, "hearing_date", errs[1].Key)
}

func TestFormatField(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"claimant_cpf", "11144477735", "111.444.777-35"},
		{"company_cnpj", "11222333000181", "11.222.333/0001-81"},
		{"address_cep", "01310100", "01310-100"},
		{"contact_phone", "11987654321", "(11) 98765-4321"},
		{"contact_phone", "1134567890", "(11) 3456-7890"},
		// partial values stay untouched
		{"claimant_cpf", "111444", "111444"},
		{"free_notes", "hello", "hello"},
	}
	for _, tt := range tests {
		if got := FormatField(tt.key, tt.value); got != tt.want {
			t.Errorf("FormatField(%q, %q) = %q, want %q", tt.key, tt.value, got, tt.want)
		}
	}
}
