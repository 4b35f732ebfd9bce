package mapping

import (
	"fmt"
	"maps"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/hookledger/internal/ir"
)

// EnumDomain is a closed set of canonical enumeration values together with
// the raw spellings accepted for each. Immutable and safe for concurrent use.
type EnumDomain struct {
	name      string
	values    []string
	spellings map[string]string // raw spelling -> canonical value
}

// NewEnumDomain builds a domain from its canonical values.
//
// Each value is accepted verbatim and in its lower-case spelling, so the
// domain {ANDROID, IOS} casts "android" to ANDROID. aliases adds extra raw
// spellings (raw -> canonical); every alias target must be a member.
// Two values claiming the same spelling is an error.
func NewEnumDomain(name string, values []string, aliases map[string]string) (*EnumDomain, error) {
	if name == "" {
		return nil, fmt.Errorf("enum domain name is required")
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("enum domain %q: at least one value is required", name)
	}

	lower := cases.Lower(language.Und)
	d := &EnumDomain{name: name, spellings: make(map[string]string)}

	claim := func(raw, canonical string) error {
		if prev, ok := d.spellings[raw]; ok && prev != canonical {
			return fmt.Errorf("enum domain %q: spelling %q claimed by both %s and %s", name, raw, prev, canonical)
		}
		d.spellings[raw] = canonical
		return nil
	}

	for _, v := range values {
		if !ir.ValidEnumTag(v) {
			return nil, fmt.Errorf("enum domain %q: invalid value %q: must be UPPER_SNAKE_CASE", name, v)
		}
		if slices.Contains(d.values, v) {
			return nil, fmt.Errorf("enum domain %q: duplicate value %q", name, v)
		}
		d.values = append(d.values, v)
		if err := claim(v, v); err != nil {
			return nil, err
		}
		if err := claim(lower.String(v), v); err != nil {
			return nil, err
		}
	}

	for _, raw := range slices.Sorted(maps.Keys(aliases)) {
		target := aliases[raw]
		if raw == "" {
			return nil, fmt.Errorf("enum domain %q: empty alias", name)
		}
		if !slices.Contains(d.values, target) {
			return nil, fmt.Errorf("enum domain %q: alias %q targets unknown value %q", name, raw, target)
		}
		if err := claim(raw, target); err != nil {
			return nil, err
		}
	}

	slices.Sort(d.values)
	return d, nil
}

// MustEnumDomain is like NewEnumDomain but panics on error.
func MustEnumDomain(name string, values []string, aliases map[string]string) *EnumDomain {
	d, err := NewEnumDomain(name, values, aliases)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the domain's name.
func (d *EnumDomain) Name() string {
	return d.name
}

// Cast translates raw text to a member of the domain. Matching is exact
// against the accepted spellings. Anything else fails with ErrInvalidEnumValue.
func (d *EnumDomain) Cast(raw string) (string, error) {
	if v, ok := d.spellings[raw]; ok {
		return v, nil
	}
	return "", &MappingError{Code: ErrCodeInvalidEnumValue, Table: d.name, Raw: raw}
}

// Contains reports whether v is a canonical member of the domain.
func (d *EnumDomain) Contains(v string) bool {
	_, found := slices.BinarySearch(d.values, v)
	return found
}

// Values returns the canonical members, sorted.
func (d *EnumDomain) Values() []string {
	return slices.Clone(d.values)
}

// Spellings returns every accepted raw spelling, sorted.
func (d *EnumDomain) Spellings() []string {
	return slices.Sorted(maps.Keys(d.spellings))
}
