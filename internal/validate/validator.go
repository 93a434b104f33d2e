package validate

import (
	"fmt"
	"strings"

	"tracehub/internal/domain"
	"tracehub/internal/registry"
)

// PayloadRule lists the payload subfields an operation type must carry.
// Params: matching keywords, required and numeric fields, relax keywords.
// Returns: one per-type schema applied only when a payload is present.
type PayloadRule struct {
	Name         string
	TypeContains []string
	Required     []string
	Numeric      []string
	RelaxWhen    []string
}

// DefaultPayloadRules returns the declaration and manifest schemas used by member systems.
// Params: none.
// Returns: rule list.
func DefaultPayloadRules() []PayloadRule {
	return []PayloadRule{
		{
			Name:         "declaration",
			TypeContains: []string{"declaration"},
			Required:     []string{"numero_declaration", "bureau_declaration"},
			Numeric:      []string{"nombre_articles", "valeur_totale_caf"},
			RelaxWhen:    []string{"completion"},
		},
		{
			Name:         "manifest",
			TypeContains: []string{"manifest"},
			Required:     []string{"numero_manifeste", "consignataire", "navire"},
			RelaxWhen:    []string{"completion"},
		},
	}
}

// Options configures intake checks.
// Params: registry, strict membership flag and payload rules.
// Returns: validator settings.
type Options struct {
	Registry     *registry.Registry
	Strict       bool
	PayloadRules []PayloadRule
}

// Validator normalizes and checks inbound records before they reach the ledger.
// Params: immutable options; safe for concurrent use.
// Returns: normalized input or a ValidationError listing every violation.
type Validator struct {
	registry *registry.Registry
	strict   bool
	rules    []PayloadRule
}

// New builds a validator.
// Params: options; registry is required.
// Returns: validator or configuration error.
func New(opts Options) (*Validator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("validator needs a registry")
	}
	rules := make([]PayloadRule, 0, len(opts.PayloadRules))
	for _, rule := range opts.PayloadRules {
		rule.TypeContains = lowerAll(rule.TypeContains)
		rule.RelaxWhen = lowerAll(rule.RelaxWhen)
		rules = append(rules, rule)
	}
	return &Validator{registry: opts.Registry, strict: opts.Strict, rules: rules}, nil
}

// Prepare trims and normalizes an input, then runs every check.
// Params: raw inbound record.
// Returns: normalized input, or the same input with a ValidationError holding all violations.
func (v *Validator) Prepare(input domain.OperationInput) (domain.OperationInput, error) {
	normalized := input
	normalized.OperationType = strings.TrimSpace(input.OperationType)
	normalized.OperationNumber = strings.TrimSpace(input.OperationNumber)
	// Names are folded to codes before the membership check.
	normalized.OriginCountry = v.registry.Normalize(input.OriginCountry)
	normalized.DestinationCountry = v.registry.Normalize(input.DestinationCountry)
	normalized.Payload = input.Payload.Clone()

	verr := &domain.ValidationError{}
	if normalized.OperationType == "" {
		verr.Add("operationType", "required", "operation type is required")
	}
	if normalized.OperationNumber == "" {
		verr.Add("operationNumber", "required", "operation number is required")
	}
	v.checkCountry(verr, "originCountry", "origin country", normalized.OriginCountry, input.OriginCountry)
	v.checkCountry(verr, "destinationCountry", "destination country", normalized.DestinationCountry, input.DestinationCountry)
	if len(normalized.Payload) > 0 {
		v.checkPayload(verr, normalized.OperationType, normalized.Payload)
	}

	if err := verr.Err(); err != nil {
		return input, err
	}
	return normalized, nil
}

// Strict reports whether unknown country codes are rejected.
// Params: none.
// Returns: strict flag.
func (v *Validator) Strict() bool {
	return v.strict
}

// checkCountry validates one country field.
// Params: violation sink, field name, label, normalized code and raw value.
// Returns: nothing; violations are appended.
func (v *Validator) checkCountry(verr *domain.ValidationError, field, label, code, raw string) {
	if code == "" {
		verr.Add(field, "required", label+" is required")
		return
	}
	if v.strict && !v.registry.Contains(code) {
		verr.Add(field, "member", fmt.Sprintf("%s %q is not a registered member", label, strings.TrimSpace(raw)))
	}
}

// checkPayload applies every matching per-type rule.
// Params: violation sink, operation type and payload.
// Returns: nothing; violations are appended.
func (v *Validator) checkPayload(verr *domain.ValidationError, operationType string, payload domain.Payload) {
	lowered := strings.ToLower(operationType)
	for _, rule := range v.rules {
		if !containsAny(lowered, rule.TypeContains) || containsAny(lowered, rule.RelaxWhen) {
			continue
		}
		for _, field := range rule.Required {
			if !payload.Has(field) {
				verr.Add("businessPayload."+field, "required", fmt.Sprintf("%s requires %s", rule.Name, field))
			}
		}
		for _, field := range rule.Numeric {
			if !payload.Has(field) {
				continue
			}
			if _, ok := payload.Number(field); !ok {
				verr.Add("businessPayload."+field, "numeric", fmt.Sprintf("%s field %s must be numeric", rule.Name, field))
			}
		}
	}
}

func containsAny(value string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(value, keyword) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.ToLower(strings.TrimSpace(value)))
	}
	return out
}
