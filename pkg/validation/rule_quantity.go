package validation

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// qualityMissing marks a position with no measured value; such
	// positions legally carry an empty quantity.
	qualityMissing = "A02"

	maxQuantity         = 1_000_000_000
	maxQuantityDecimals = 3
)

// QuantityRule checks the format and range of every reported quantity:
// a valid decimal number, non-negative, below one billion, at most three
// decimal places. Positions marked as missing are exempt.
type QuantityRule struct{}

func (QuantityRule) Validate(in Input) []Error {
	var out []Error
	for _, v := range in.Values {
		if v.Quantity == "" {
			if v.Quality == qualityMissing {
				continue
			}
			out = append(out, quantityError(v.Position, "quantity is missing", "mængden mangler"))
			continue
		}

		q, err := strconv.ParseFloat(v.Quantity, 64)
		if err != nil || !wellFormed(v.Quantity) {
			out = append(out, quantityError(v.Position,
				fmt.Sprintf("quantity %q is not a valid decimal number", v.Quantity),
				fmt.Sprintf("mængden %q er ikke et gyldigt decimaltal", v.Quantity)))
			continue
		}
		if q < 0 {
			out = append(out, quantityError(v.Position,
				fmt.Sprintf("quantity %s must not be negative", v.Quantity),
				fmt.Sprintf("mængden %s må ikke være negativ", v.Quantity)))
			continue
		}
		if q >= maxQuantity {
			out = append(out, quantityError(v.Position,
				fmt.Sprintf("quantity %s is out of range", v.Quantity),
				fmt.Sprintf("mængden %s er uden for det tilladte interval", v.Quantity)))
			continue
		}
		if decimals(v.Quantity) > maxQuantityDecimals {
			out = append(out, quantityError(v.Position,
				fmt.Sprintf("quantity %s has more than %d decimal places", v.Quantity, maxQuantityDecimals),
				fmt.Sprintf("mængden %s har mere end %d decimaler", v.Quantity, maxQuantityDecimals)))
		}
	}
	return out
}

func quantityError(position int, en, da string) Error {
	return Error{
		Code: "E86",
		Message: Message{
			English: fmt.Sprintf("Position %d: %s", position, en),
			Danish:  fmt.Sprintf("Position %d: %s", position, da),
		},
	}
}

// wellFormed reports whether s is a plain decimal: an optional minus,
// digits, optionally a point and more digits. strconv.ParseFloat alone
// also admits "NaN", "Inf", exponents and hex floats, none of which
// are valid on the wire.
func wellFormed(s string) bool {
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasPoint := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return false
	}
	if hasPoint && (frac == "" || !allDigits(frac)) {
		return false
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func decimals(s string) int {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}
