package handler

import (
	"context"

	"github.com/gridmesh/procman/pkg/receivers"
)

// MasterDataProvider looks up the master-data records of a metering
// point that overlap the given period. An empty result is not an error;
// business validation turns it into a reject.
type MasterDataProvider interface {
	GetMasterData(ctx context.Context, meteringPointID string, period receivers.Interval) ([]receivers.MasterData, error)
}

// StaticMasterData is a fixed in-process MasterDataProvider keyed by
// metering point id, mainly for tests.
type StaticMasterData map[string][]receivers.MasterData

func (m StaticMasterData) GetMasterData(ctx context.Context, meteringPointID string, period receivers.Interval) ([]receivers.MasterData, error) {
	var out []receivers.MasterData
	for _, md := range m[meteringPointID] {
		// Keep only records whose validity overlaps the period.
		if md.ValidFrom.IsZero() || md.ValidFrom.Before(period.End) {
			if md.ValidTo.IsZero() || md.ValidTo.After(period.Start) {
				out = append(out, md)
			}
		}
	}
	return out, nil
}
