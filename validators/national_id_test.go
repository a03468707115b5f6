package validators

import (
	"testing"
)

func TestValidateCPF(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"well-formed with punctuation", "111.444.777-35", true},
		{"same digits unformatted", "11144477735", true},
		{"bad checksum", "123.456.789-00", false},
		{"all equal digits", "00000000000", false},
		{"all equal digits formatted", "111.111.111-11", false},
		{"too short", "1114447773", false},
		{"too long", "111444777350", false},
		{"empty is valid", "", true},
		{"whitespace only is valid", "   ", true},
		{"punctuation only is valid", "..-", true},
		{"first digit wrong", "111.444.777-45", false},
		{"second digit wrong", "111.444.777-36", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateNationalID(Person, tt.raw); got != tt.want {
				t.Errorf("ValidateNationalID(Person, %q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateCNPJ(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"well-formed with punctuation", "11.222.333/0001-81", true},
		{"same digits unformatted", "11222333000181", true},
		{"bad checksum", "11.222.333/0001-82", false},
		{"too short", "1122233300018", false},
		{"empty is valid", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateNationalID(Company, tt.raw); got != tt.want {
				t.Errorf("ValidateNationalID(Company, %q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// Cosmetic punctuation must never change the verdict.
func TestValidateCPFFormatInvariance(t *testing.T) {
	variants := []string{"11144477735", "111.444.777-35", "111 444 777 35", "111-444-777.35"}
	for _, v := range variants {
		if !ValidateNationalID(Person, v) {
			t.Errorf("variant %q rejected, want accepted", v)
		}
	}
}
