package fsck

import (
	"errors"
	"fmt"

	"github.com/fenwickgrove/arbor/pkg/object"
)

// censusResult classifies the commit objects found in the store listing.
type censusResult struct {
	// roots are the complete commits used as reachability roots.
	roots []object.Hash
	// partial counts commits excluded from verification; verifying them
	// would produce false corruption reports.
	partial int
	// tombstones are commits whose declared parent cannot be resolved,
	// staged for the apply phase.
	tombstones []object.Hash
}

// takeCensus walks the full object listing and classifies every commit.
// The listing just enumerated these objects, so a not-found on load is
// impossible; any load failure here is a fatal I/O error.
func (r *run) takeCensus(listing []object.ObjectID) error {
	for _, id := range listing {
		if id.Kind != object.KindCommit {
			continue
		}

		c, state, err := r.st.LoadCommit(id.Checksum)
		if err != nil {
			return fmt.Errorf("loading commit %s: %w", id.Checksum, err)
		}

		if r.opts.AddTombstones && c.Parent != "" {
			parent := object.ObjectID{Checksum: c.Parent, Kind: object.KindCommit}
			if _, err := r.st.LoadMetadata(parent); err != nil {
				if !errors.Is(err, object.ErrNotFound) {
					return err
				}
				r.census.tombstones = append(r.census.tombstones, id.Checksum)
			}
		}

		if state == object.StatePartial {
			r.census.partial++
		} else {
			r.census.roots = append(r.census.roots, id.Checksum)
		}
	}
	return nil
}
