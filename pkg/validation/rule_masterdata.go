package validation

// MasterDataExistsRule reports the absence of master data for the
// metering point. Other rules short-circuit internally when no master
// data is present, but the pipeline itself still runs every rule.
type MasterDataExistsRule struct{}

func (MasterDataExistsRule) Validate(in Input) []Error {
	if len(in.MasterData) > 0 {
		return nil
	}
	return []Error{{
		Code: "E10",
		Message: Message{
			English: "The metering point is not registered, or no master data exists for the requested period",
			Danish:  "Målepunktet er ikke registreret, eller der findes ingen stamdata for den ønskede periode",
		},
	}}
}
