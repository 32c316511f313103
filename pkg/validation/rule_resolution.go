package validation

import (
	"fmt"

	"github.com/gridmesh/procman/pkg/receivers"
)

// ResolutionCompatibilityRule checks that the reported resolution is
// legal for the metering point's type. Without master data there is
// nothing to check against; MasterDataExistsRule reports that case.
type ResolutionCompatibilityRule struct{}

func (ResolutionCompatibilityRule) Validate(in Input) []Error {
	var out []Error
	for _, md := range in.MasterData {
		if resolutionAllowed(md.Type, in.Resolution) {
			continue
		}
		out = append(out, Error{
			Code: "D23",
			Message: Message{
				English: fmt.Sprintf("Resolution %s is not allowed for metering point type %s", in.Resolution, md.Type),
				Danish:  fmt.Sprintf("Opløsning %s er ikke tilladt for målepunktstype %s", in.Resolution, md.Type),
			},
		})
		// One error per offending type is enough; consecutive records of
		// the same type would repeat it.
		break
	}
	return out
}

func resolutionAllowed(t receivers.MeteringPointType, r receivers.Resolution) bool {
	switch t {
	case receivers.TypeExchange, receivers.TypeVEProduction:
		// Exchange and VE production are settled on fine-grained series.
		return r == receivers.ResolutionQuarterHourly || r == receivers.ResolutionHourly
	case receivers.TypeConsumption, receivers.TypeProduction:
		return r == receivers.ResolutionQuarterHourly || r == receivers.ResolutionHourly || r == receivers.ResolutionDaily
	default:
		// Child and informational types also accept monthly series.
		return r.Valid()
	}
}
