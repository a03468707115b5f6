package services

import (
	"regexp"
	"sort"
	"strings"

	"petition-hand/models"
)

// Category is the semantic group a placeholder key belongs to. It drives
// visual grouping and selects the autofill source for a field.
type Category string

const (
	CategoryAuthority      Category = "authority"
	CategoryEntityPersonal Category = "entity_personal"
	CategoryEntityAddress  Category = "entity_address"
	CategoryClaimant       Category = "claimant"
	CategoryRespondent     Category = "respondent"
	CategoryThirdParty     Category = "third_party"
	CategoryCase           Category = "case"
	CategoryAddress        Category = "address"
	CategoryIdentity       Category = "identity"
	CategoryDate           Category = "date"
	CategoryOther          Category = "other"
)

var entityKeyPattern = regexp.MustCompile(`^entity_(\d+)_(.+)$`)

// Keyword groups, in match priority order. Categorization must be a pure
// function of the key string so every consumer of this package lands the
// same key in the same group across sessions.
var (
	authorityKeywords  = []string{"authority", "detran", "transit_org", "jari", "cetran"}
	claimantKeywords   = []string{"claimant", "author", "applicant", "petitioner"}
	respondentKeywords = []string{"respondent", "defendant", "opposing"}
	thirdPartyKeywords = []string{"witness", "third", "representative", "attorney"}
	caseKeywords       = []string{"process", "case", "infraction", "fine", "penalty", "plate", "vehicle", "ait", "renainf", "court"}
	addressKeywords    = []string{"address", "street", "city", "state", "district", "cep", "postal", "complement", "zip"}
	identityKeywords   = []string{"cpf", "cnpj", "rg", "cnh", "name", "profession", "marital", "nationality", "birth", "email", "phone"}
	dateKeywords       = []string{"date", "deadline", "day"}
)

// Categorize classifies a raw placeholder key into its category and, for
// numbered-entity keys, the entity index. Matching is case-insensitive.
func Categorize(key string) (Category, *int) {
	k := strings.ToLower(strings.TrimSpace(key))

	if containsAny(k, authorityKeywords) {
		return CategoryAuthority, nil
	}

	if m := entityKeyPattern.FindStringSubmatch(k); m != nil {
		idx := atoiSafe(m[1])
		// The suffix decides the sub-category: address attributes of a
		// numbered entity render in their own visual group.
		if containsAny(m[2], addressKeywords) {
			return CategoryEntityAddress, &idx
		}
		return CategoryEntityPersonal, &idx
	}

	switch {
	case containsAny(k, claimantKeywords):
		return CategoryClaimant, nil
	case containsAny(k, respondentKeywords):
		return CategoryRespondent, nil
	case containsAny(k, thirdPartyKeywords):
		return CategoryThirdParty, nil
	case containsAny(k, caseKeywords):
		return CategoryCase, nil
	case containsAny(k, addressKeywords):
		return CategoryAddress, nil
	case containsAny(k, identityKeywords):
		return CategoryIdentity, nil
	case containsAny(k, dateKeywords):
		return CategoryDate, nil
	}
	return CategoryOther, nil
}

// PreparePlaceholders assigns each placeholder its category and entity
// index. When no placeholder carries an explicit order the list position
// becomes the order; an explicit ordering is left untouched, including
// legitimate zeros.
func PreparePlaceholders(placeholders []models.Placeholder) []models.Placeholder {
	explicit := false
	for i := range placeholders {
		if placeholders[i].Order != 0 {
			explicit = true
			break
		}
	}
	for i := range placeholders {
		cat, idx := Categorize(placeholders[i].Key)
		placeholders[i].Category = string(cat)
		placeholders[i].EntityIndex = idx
		if !explicit {
			placeholders[i].Order = i
		}
	}
	return placeholders
}

// PlaceholderGroup is one rendered section of a generation form.
type PlaceholderGroup struct {
	Category     Category             `json:"category"`
	Placeholders []models.Placeholder `json:"placeholders"`
}

// GroupPlaceholders splits a template's placeholders into render groups.
// Within a group the user's custom key order wins; keys absent from the
// custom order keep their template order and follow the customized ones.
func GroupPlaceholders(placeholders []models.Placeholder, customOrder []string) []PlaceholderGroup {
	rank := make(map[string]int, len(customOrder))
	for i, key := range customOrder {
		rank[key] = i
	}

	grouped := map[Category][]models.Placeholder{}
	var seen []Category
	for _, p := range placeholders {
		cat, idx := Categorize(p.Key)
		p.Category = string(cat)
		p.EntityIndex = idx
		if _, ok := grouped[cat]; !ok {
			seen = append(seen, cat)
		}
		grouped[cat] = append(grouped[cat], p)
	}

	groups := make([]PlaceholderGroup, 0, len(seen))
	for _, cat := range seen {
		ps := grouped[cat]
		sort.SliceStable(ps, func(i, j int) bool {
			ri, iOK := rank[ps[i].Key]
			rj, jOK := rank[ps[j].Key]
			switch {
			case iOK && jOK:
				return ri < rj
			case iOK:
				return true
			case jOK:
				return false
			}
			return ps[i].Order < ps[j].Order
		})
		groups = append(groups, PlaceholderGroup{Category: cat, Placeholders: ps})
	}
	return groups
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
