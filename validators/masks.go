package validators

import (
	"fmt"
	"strings"
)

// FormatField applies the display mask selected by the field key. Values
// whose digits do not fit the mask are returned unchanged, so a partial
// value is never mangled mid-edit.
func FormatField(key, value string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "cnpj"):
		return FormatCNPJ(value)
	case strings.Contains(k, "cpf"):
		return FormatCPF(value)
	case strings.Contains(k, "cep") || strings.Contains(k, "postal"):
		return FormatCEP(value)
	case strings.Contains(k, "phone") || strings.Contains(k, "telefone"):
		return FormatPhone(value)
	}
	return value
}

// FormatCPF renders eleven digits as 000.000.000-00.
func FormatCPF(value string) string {
	d := OnlyDigits(value)
	if len(d) != 11 {
		return value
	}
	return fmt.Sprintf("%s.%s.%s-%s", d[0:3], d[3:6], d[6:9], d[9:11])
}

// FormatCNPJ renders fourteen digits as 00.000.000/0000-00.
func FormatCNPJ(value string) string {
	d := OnlyDigits(value)
	if len(d) != 14 {
		return value
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", d[0:2], d[2:5], d[5:8], d[8:12], d[12:14])
}

// FormatCEP renders eight digits as 00000-000.
func FormatCEP(value string) string {
	d := OnlyDigits(value)
	if len(d) != 8 {
		return value
	}
	return d[0:5] + "-" + d[5:8]
}

// FormatPhone renders ten or eleven digits as (00) 0000-0000 or
// (00) 00000-0000.
func FormatPhone(value string) string {
	d := OnlyDigits(value)
	switch len(d) {
	case 10:
		return fmt.Sprintf("(%s) %s-%s", d[0:2], d[2:6], d[6:10])
	case 11:
		return fmt.Sprintf("(%s) %s-%s", d[0:2], d[2:7], d[7:11])
	}
	return value
}
