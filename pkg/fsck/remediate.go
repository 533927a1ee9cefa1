package fsck

import (
	"context"
	"errors"
	"fmt"

	"github.com/fenwickgrove/arbor/pkg/object"
)

// remediate applies the run's remediation policy to one verification
// outcome.
//
// A missing object is the common, lower-severity case (e.g. a local prune
// of a non-root object): it is repaired when sources are configured,
// otherwise aggregated into the run-wide corruption flag. An unexplained
// checksum mismatch with no delete or repair configured is silent
// bit-level corruption the operator has not opted to tolerate, so it
// aborts the run immediately.
func (r *run) remediate(ctx context.Context, id object.ObjectID, v verification) error {
	switch v.verdict {
	case verdictValid:
		r.result.BytesChecked += v.size
		return nil

	case verdictMissing:
		fmt.Fprintf(r.errout, "Object missing: %s\n", id)
		if !r.repair(ctx, id) {
			r.corruption = true
		}
		return nil

	case verdictMismatch:
		msg := fmt.Sprintf("corrupted object %s; actual checksum: %s", id, v.actual)
		if !r.opts.Delete && len(r.sources) == 0 {
			return errors.New(msg)
		}
		fmt.Fprintln(r.errout, msg)
		// Best-effort: a failed deletion is reported but the repair
		// attempt still proceeds.
		if err := r.st.Delete(id); err != nil {
			fmt.Fprintf(r.errout, "failed to delete %s: %v\n", id, err)
		}
		if !r.repair(ctx, id) {
			r.corruption = true
		}
		return nil
	}
	return fmt.Errorf("unhandled verification verdict %d for %s", v.verdict, id)
}

func (r *run) repair(ctx context.Context, id object.ObjectID) bool {
	if r.client == nil {
		return false
	}
	if !r.client.RepairObject(ctx, r.st, r.sources, id) {
		return false
	}
	fmt.Fprintf(r.out, "Repaired object: %s\n", id)
	r.result.ObjectsRepaired++
	return true
}
