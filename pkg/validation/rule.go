package validation

import (
	"github.com/gridmesh/procman/pkg/receivers"
)

// Message is a human-readable validation message in both market
// languages.
type Message struct {
	English string
	Danish  string
}

// Error is one structured business-validation error. Validation errors
// are values, not Go errors: the start handler consumes them to choose
// the reject path and they end up verbatim in the rejection message sent
// back to the requester.
type Error struct {
	Code    string
	Message Message
}

// Input is the record a rule validates: the request payload plus the
// master data looked up for it. An empty MasterData slice is itself
// information; some rules report it, others treat it as "nothing to
// check against".
type Input struct {
	MeteringPointID string
	Period          receivers.Interval
	Resolution      receivers.Resolution
	Values          []receivers.MeteredValue
	MasterData      []receivers.MasterData
}

// Rule is one pure business-validation rule: input in, zero or more
// errors out. Rules must be side-effect free and independently testable.
type Rule interface {
	Validate(in Input) []Error
}

// Validator aggregates a fixed, ordered set of rules. Every rule runs on
// every call, regardless of what earlier rules produced; outputs are
// concatenated in registration order.
type Validator struct {
	rules []Rule
}

// NewValidator creates a Validator over the given rules, in order.
func NewValidator(rules ...Rule) *Validator {
	return &Validator{rules: rules}
}

// DefaultRules is the rule set for forward-metered-data requests.
func DefaultRules() []Rule {
	return []Rule{
		MasterDataExistsRule{},
		ResolutionCompatibilityRule{},
		PeriodRule{},
		PositionCountRule{},
		QuantityRule{},
	}
}

// Validate runs all rules and returns the flattened error list. An empty
// result means the input passed business validation.
func (v *Validator) Validate(in Input) []Error {
	var out []Error
	for _, r := range v.rules {
		out = append(out, r.Validate(in)...)
	}
	return out
}
