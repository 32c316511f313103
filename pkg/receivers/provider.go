package receivers

import (
	"fmt"
	"sort"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// Default recipient numbers for the fixed parties. Overridable on the
// Provider for test environments.
const (
	DefaultDanishEnergyAgencyNumber orchestration.ActorNumber = "5790000432752"
	DefaultSystemOperatorNumber     orchestration.ActorNumber = "5790000432753"
)

// MeteredValue is one measured value in a position-indexed sequence.
// Position 1 corresponds to the first unit of the interval the sequence
// spans. Quantity is the decimal string from the wire; the engine never
// does arithmetic on it.
type MeteredValue struct {
	Position int
	Quantity string
	Quality  string
}

// Segment is one receiver-resolved slice of the requested interval: its
// clamped bounds, the recipients entitled to it, and a contiguous,
// position-renumbered copy of the measured values that fall inside it.
type Segment struct {
	Interval     Interval
	GridAreaCode string
	Recipients   []orchestration.Identity
	Values       []MeteredValue
}

// Input is everything the algorithm needs. It is immutable as far as the
// algorithm is concerned.
type Input struct {
	// Interval is the requested reporting interval.
	Interval Interval

	// Resolution of the value sequence.
	Resolution Resolution

	// MasterData records, each with its own validity interval. Records
	// may exceed the requested interval at either end.
	MasterData []MasterData

	// Values spans the whole requested interval, position-indexed from 1.
	Values []MeteredValue

	// AdditionalRecipients, if non-empty, receive one synthetic segment
	// spanning the entire requested interval with the full value
	// sequence, independent of master data.
	AdditionalRecipients []orchestration.Identity
}

// Provider computes per-segment recipient lists and data slices. It is a
// pure function of its input: same input, same output, which is what
// lets handlers recompute it safely on every retry.
type Provider struct {
	DanishEnergyAgency orchestration.ActorNumber
	SystemOperator     orchestration.ActorNumber
}

// NewProvider returns a Provider with the default fixed recipients.
func NewProvider() *Provider {
	return &Provider{
		DanishEnergyAgency: DefaultDanishEnergyAgencyNumber,
		SystemOperator:     DefaultSystemOperatorNumber,
	}
}

// Segments splits the requested interval along master-data validity
// boundaries and resolves the recipients of each resulting segment.
//
// Segments are returned in chronological order. The union of the
// returned value slices (ignoring the synthetic additional-recipients
// segment) is exactly the input sequence restricted to the requested
// interval: no gaps, no overlaps, no duplication.
func (p *Provider) Segments(in Input) ([]Segment, error) {
	if in.Interval.IsEmpty() {
		return nil, fmt.Errorf("receivers: requested interval %s is empty", in.Interval)
	}
	if !in.Resolution.Valid() {
		return nil, fmt.Errorf("receivers: unknown resolution %q", in.Resolution)
	}

	var out []Segment
	for _, md := range in.MasterData {
		iv := md.validity(in.Interval)
		if iv.IsEmpty() {
			continue
		}
		recipients, err := p.recipients(md)
		if err != nil {
			return nil, err
		}
		out = append(out, Segment{
			Interval:     iv,
			GridAreaCode: md.GridAreaCode,
			Recipients:   recipients,
			Values:       slice(in.Values, in.Interval, in.Resolution, iv),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Interval.Start.Before(out[j].Interval.Start)
	})

	if len(in.AdditionalRecipients) > 0 {
		gridArea := ""
		if len(in.MasterData) > 0 {
			gridArea = in.MasterData[0].GridAreaCode
		}
		out = append(out, Segment{
			Interval:     in.Interval,
			GridAreaCode: gridArea,
			Recipients:   dedupe(in.AdditionalRecipients),
			Values:       renumber(in.Values),
		})
	}

	return out, nil
}

// recipients resolves the recipient set for one master-data record from
// its metering-point type.
func (p *Provider) recipients(md MasterData) ([]orchestration.Identity, error) {
	var rs []orchestration.Identity

	switch {
	case md.Type == TypeConsumption || md.Type == TypeProduction:
		rs = append(rs,
			orchestration.Identity{Number: md.EnergySupplier, Role: orchestration.RoleEnergySupplier},
			orchestration.Identity{Number: p.DanishEnergyAgency, Role: orchestration.RoleDanishEnergyAgency},
		)

	case md.Type == TypeExchange:
		for _, n := range md.NeighborGridAreaOwners {
			rs = append(rs, orchestration.Identity{Number: n, Role: orchestration.RoleGridAccessProvider})
		}

	case md.Type == TypeVEProduction:
		rs = append(rs,
			orchestration.Identity{Number: p.SystemOperator, Role: orchestration.RoleSystemOperator},
			orchestration.Identity{Number: p.DanishEnergyAgency, Role: orchestration.RoleDanishEnergyAgency},
			orchestration.Identity{Number: md.EnergySupplier, Role: orchestration.RoleEnergySupplier},
		)

	case md.Type.IsChild():
		// Data for a child metering point goes to the supplier of the
		// parent metering point over this validity window.
		rs = append(rs, orchestration.Identity{Number: md.ParentEnergySupplier, Role: orchestration.RoleEnergySupplier})

	default:
		return nil, fmt.Errorf("receivers: unknown metering point type %q", md.Type)
	}

	return dedupe(rs), nil
}

// slice copies the values whose nominal timestamp falls inside segment,
// renumbering positions contiguously from 1.
//
// The nominal timestamp of the i-th value (0-based list order) is the
// requested start advanced i resolution units; the stored Position field
// is not trusted for arithmetic.
func slice(values []MeteredValue, requested Interval, res Resolution, segment Interval) []MeteredValue {
	var out []MeteredValue
	ts := requested.Start
	for _, v := range values {
		if !ts.Before(requested.End) {
			break
		}
		if segment.Contains(ts) {
			v.Position = len(out) + 1
			out = append(out, v)
		}
		ts = res.Next(ts)
	}
	return out
}

// renumber copies values with positions re-assigned 1..n in list order.
func renumber(values []MeteredValue) []MeteredValue {
	out := make([]MeteredValue, len(values))
	for i, v := range values {
		v.Position = i + 1
		out[i] = v
	}
	return out
}

// dedupe removes duplicate (number, role) pairs, preserving first-seen
// order.
func dedupe(rs []orchestration.Identity) []orchestration.Identity {
	seen := make(map[orchestration.Identity]struct{}, len(rs))
	out := make([]orchestration.Identity, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
