package registry

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tracehub/internal/domain"
)

// Entry is one registry member plus the spellings that normalize to its code.
// Params: country metadata and aliases.
// Returns: seed entry for New.
type Entry struct {
	domain.Country
	Aliases []string
}

// Registry is the immutable catalog of member countries.
// Params: built once by New from seed entries.
// Returns: lookup table safe for concurrent reads.
type Registry struct {
	countries []domain.Country
	byCode    map[string]domain.Country
	aliases   map[string]string
}

// DefaultEntries returns the eight network members with their usual spellings.
// Params: none.
// Returns: seed entries in registry order.
func DefaultEntries() []Entry {
	return []Entry{
		{Country: domain.Country{Code: "SEN", Name: "Sénégal", City: "Dakar", Category: domain.CategoryCoastal, Role: "port of entry"}, Aliases: []string{"SENEGAL"}},
		{Country: domain.Country{Code: "CIV", Name: "Côte d'Ivoire", City: "Abidjan", Category: domain.CategoryCoastal, Role: "port of entry"}, Aliases: []string{"COTE D'IVOIRE", "COTE DIVOIRE", "IVORY COAST"}},
		{Country: domain.Country{Code: "BEN", Name: "Bénin", City: "Cotonou", Category: domain.CategoryCoastal, Role: "port of entry"}, Aliases: []string{"BENIN"}},
		{Country: domain.Country{Code: "TGO", Name: "Togo", City: "Lomé", Category: domain.CategoryCoastal, Role: "port of entry"}, Aliases: []string{"TOGO"}},
		{Country: domain.Country{Code: "GNB", Name: "Guinée-Bissau", City: "Bissau", Category: domain.CategoryCoastal, Role: "port of entry"}, Aliases: []string{"GUINEE-BISSAU", "GUINEE BISSAU", "GUINEA-BISSAU"}},
		{Country: domain.Country{Code: "MLI", Name: "Mali", City: "Bamako", Category: domain.CategoryLandlocked, Role: "destination"}, Aliases: []string{"MALI"}},
		{Country: domain.Country{Code: "BFA", Name: "Burkina Faso", City: "Ouagadougou", Category: domain.CategoryLandlocked, Role: "destination"}, Aliases: []string{"BURKINA FASO", "BURKINA"}},
		{Country: domain.Country{Code: "NER", Name: "Niger", City: "Niamey", Category: domain.CategoryLandlocked, Role: "destination"}, Aliases: []string{"NIGER"}},
	}
}

// New builds a registry and indexes codes, names and aliases.
// Params: seed entries; codes must be unique and aliases must not collide.
// Returns: registry or seed error.
func New(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry needs at least one country")
	}
	reg := &Registry{
		countries: make([]domain.Country, 0, len(entries)),
		byCode:    make(map[string]domain.Country, len(entries)),
		aliases:   make(map[string]string, len(entries)*3),
	}
	for i, entry := range entries {
		code := strings.ToUpper(strings.TrimSpace(entry.Code))
		if code == "" {
			return nil, fmt.Errorf("registry entry %d: code is required", i)
		}
		if _, exists := reg.byCode[code]; exists {
			return nil, fmt.Errorf("registry entry %d: duplicate code %q", i, code)
		}
		if entry.Category != domain.CategoryCoastal && entry.Category != domain.CategoryLandlocked {
			return nil, fmt.Errorf("registry entry %q: category must be coastal or landlocked", code)
		}
		country := entry.Country
		country.Code = code
		reg.countries = append(reg.countries, country)
		reg.byCode[code] = country

		spellings := append([]string{code, country.Name}, entry.Aliases...)
		for _, spelling := range spellings {
			key := foldName(spelling)
			if key == "" {
				continue
			}
			if owner, taken := reg.aliases[key]; taken && owner != code {
				return nil, fmt.Errorf("registry alias %q maps to both %s and %s", spelling, owner, code)
			}
			reg.aliases[key] = code
		}
	}
	return reg, nil
}

// MustDefault returns the default eight-member registry.
// Params: none.
// Returns: registry; panics only if the built-in seed is broken.
func MustDefault() *Registry {
	reg, err := New(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return reg
}

// Normalize maps a raw country reference to a code.
// Params: code, full name or accented variant as sent by a member system.
// Returns: registry code for known spellings, otherwise the folded upper-case input.
func (r *Registry) Normalize(raw string) string {
	key := foldName(raw)
	if code, ok := r.aliases[key]; ok {
		return code
	}
	return key
}

// Lookup returns the member for a code.
// Params: already normalized code.
// Returns: country and membership flag.
func (r *Registry) Lookup(code string) (domain.Country, bool) {
	country, ok := r.byCode[code]
	return country, ok
}

// Contains reports registry membership.
// Params: normalized code.
// Returns: true for members.
func (r *Registry) Contains(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Countries returns the members in registry order.
// Params: none.
// Returns: copy of the member list.
func (r *Registry) Countries() []domain.Country {
	out := make([]domain.Country, len(r.countries))
	copy(out, r.countries)
	return out
}

// Size returns the number of members.
// Params: none.
// Returns: member count.
func (r *Registry) Size() int {
	return len(r.countries)
}

// Codes returns member codes in registry order.
// Params: none.
// Returns: code list.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.countries))
	for _, country := range r.countries {
		out = append(out, country.Code)
	}
	return out
}

// foldName strips accents, unifies apostrophes and spacing, and upper-cases.
// Params: raw spelling.
// Returns: comparison key.
func foldName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripper, trimmed)
	if err != nil {
		folded = trimmed
	}
	folded = strings.NewReplacer("’", "'", "`", "'", "_", " ").Replace(folded)
	return strings.ToUpper(strings.Join(strings.Fields(folded), " "))
}
