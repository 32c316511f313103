package receivers

import (
	"time"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// MeteringPointType classifies a metering point. The set is closed; the
// market model defines it, and recipient classification switches
// exhaustively over it.
type MeteringPointType string

const (
	TypeConsumption  MeteringPointType = "Consumption"
	TypeProduction   MeteringPointType = "Production"
	TypeExchange     MeteringPointType = "Exchange"
	TypeVEProduction MeteringPointType = "VEProduction"

	// Child metering-point types. Data for these goes to the energy
	// supplier of the parent metering point, not to a supplier on the
	// child itself.
	TypeNetProduction                MeteringPointType = "NetProduction"
	TypeSupplyToGrid                 MeteringPointType = "SupplyToGrid"
	TypeConsumptionFromGrid          MeteringPointType = "ConsumptionFromGrid"
	TypeWholesaleServicesInformation MeteringPointType = "WholesaleServicesInformation"
	TypeOwnProduction                MeteringPointType = "OwnProduction"
	TypeNetFromGrid                  MeteringPointType = "NetFromGrid"
	TypeNetToGrid                    MeteringPointType = "NetToGrid"
	TypeTotalConsumption             MeteringPointType = "TotalConsumption"
)

// IsChild reports whether the type is a child metering-point type.
func (t MeteringPointType) IsChild() bool {
	switch t {
	case TypeNetProduction, TypeSupplyToGrid, TypeConsumptionFromGrid,
		TypeWholesaleServicesInformation, TypeOwnProduction,
		TypeNetFromGrid, TypeNetToGrid, TypeTotalConsumption:
		return true
	}
	return false
}

// MasterData is one time-bounded record of a metering point's reference
// attributes. Records are valid over [ValidFrom, ValidTo); a zero
// ValidFrom means "since forever" and a zero ValidTo means "until
// forever" — both are clamped to the requested interval before use.
type MasterData struct {
	MeteringPointID string
	ValidFrom       time.Time
	ValidTo         time.Time
	Type            MeteringPointType
	GridAreaCode    string

	// EnergySupplier is the supplier on the record itself. For child
	// metering-point types ParentEnergySupplier is used instead.
	EnergySupplier orchestration.ActorNumber

	// NeighborGridAreaOwners are the grid access providers of the
	// neighboring grid areas; only meaningful for TypeExchange.
	NeighborGridAreaOwners []orchestration.ActorNumber

	// Parent linkage, populated for child metering-point types.
	ParentMeteringPointID string
	ParentEnergySupplier  orchestration.ActorNumber
}

// validity returns the record's validity clamped to the requested
// interval, resolving open-ended bounds.
func (md MasterData) validity(requested Interval) Interval {
	iv := Interval{Start: md.ValidFrom, End: md.ValidTo}
	if iv.Start.IsZero() {
		iv.Start = requested.Start
	}
	if iv.End.IsZero() {
		iv.End = requested.End
	}
	return iv.Intersect(requested)
}
