// Package fsck implements the repository consistency check: a census of
// commit objects, the reachability closure over complete commits,
// per-object structural and checksum verification, and a remediation
// policy for objects that are missing or corrupted.
package fsck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/fenwickgrove/arbor/pkg/fetch"
	"github.com/fenwickgrove/arbor/pkg/object"
)

// ErrCorruption is returned when the pass completes but corruption was
// found and not fully repaired. It maps to a non-zero exit status.
var ErrCorruption = errors.New("repository corruption encountered")

// Options configures a verification pass. The zero value checks the
// repository read-only and aborts on the first unexplained checksum
// mismatch.
type Options struct {
	// Quiet suppresses phase banners and progress lines; diagnostics for
	// missing/corrupted/repaired objects are always printed.
	Quiet bool
	// Delete removes corrupted objects from the store.
	Delete bool
	// AddTombstones replaces commits whose parent cannot be resolved with
	// tombstone markers instead of reporting them as corruption.
	AddTombstones bool
	// RepairFrom lists remote names to redownload bad objects from, in
	// order. The special value "-" means all configured remotes and is
	// mutually exclusive with naming specific ones.
	RepairFrom []string

	Out    io.Writer // defaults to os.Stdout
	Errout io.Writer // defaults to os.Stderr
}

// Result summarizes one verification pass.
type Result struct {
	ObjectsChecked  int
	BytesChecked    uint64
	PartialCommits  int
	TombstonesAdded int
	ObjectsRepaired int
	CorruptionFound bool
}

type run struct {
	st      *object.Store
	opts    Options
	out     io.Writer
	errout  io.Writer
	client  *fetch.Client
	sources []fetch.Source

	census     censusResult
	corruption bool
	result     Result
}

// Run executes a full verification pass against st. It returns the pass
// summary together with ErrCorruption when unrepaired corruption remains,
// or a descriptive error on any fatal I/O or structural failure.
func Run(ctx context.Context, st *object.Store, opts Options) (*Result, error) {
	r := &run{st: st, opts: opts, out: opts.Out, errout: opts.Errout}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.errout == nil {
		r.errout = os.Stderr
	}

	sources, err := resolveRepairSources(st, opts.RepairFrom)
	if err != nil {
		return nil, err
	}
	r.sources = sources
	if len(sources) > 0 {
		r.client = fetch.NewClient(fetch.ClientOptions{Errout: r.errout})
	}

	var spin *spinner.Spinner
	if !opts.Quiet {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(r.errout))
		spin.Suffix = " Enumerating objects..."
		spin.Start()
	}
	listing, err := st.List()
	if err == nil {
		err = r.takeCensus(listing)
	}
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, err
	}

	if !opts.Quiet {
		fmt.Fprintf(r.out, "Verifying content integrity of %d commit objects...\n", len(r.census.roots))
	}

	reachable := make(map[object.ObjectID]struct{})
	for _, root := range r.census.roots {
		if err := st.ExpandReachable(root, reachable); err != nil {
			return nil, err
		}
	}

	ids := maps.Keys(reachable)
	slices.SortFunc(ids, func(a, b object.ObjectID) int {
		if a.Checksum != b.Checksum {
			if a.Checksum < b.Checksum {
				return -1
			}
			return 1
		}
		if a.Kind < b.Kind {
			return -1
		}
		if a.Kind > b.Kind {
			return 1
		}
		return 0
	})

	count := len(ids)
	mod := count / 10
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := verifyObject(st, id)
		if err != nil {
			return nil, err
		}
		if err := r.remediate(ctx, id, v); err != nil {
			return nil, err
		}
		r.result.ObjectsChecked++
		if !opts.Quiet && (mod == 0 || i%mod == 0) {
			fmt.Fprintf(r.out, "%d/%d objects\n", i+1, count)
		}
	}

	if err := r.applyTombstones(); err != nil {
		return nil, err
	}

	r.result.PartialCommits = r.census.partial
	r.result.CorruptionFound = r.corruption
	if r.corruption {
		return &r.result, ErrCorruption
	}
	return &r.result, nil
}

// resolveRepairSources expands and validates the configured repair remote
// names up front, so an unknown remote fails the run before any object is
// touched.
func resolveRepairSources(st *object.Store, names []string) ([]fetch.Source, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if slices.Contains(names, "-") {
		if len(names) > 1 {
			return nil, fmt.Errorf("either list repair remotes explicitly or use - (dash) to use all available remotes")
		}
		all, err := st.RemoteNames()
		if err != nil {
			return nil, err
		}
		names = all
	}
	sources := make([]fetch.Source, 0, len(names))
	for _, name := range names {
		url, err := st.RemoteURL(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fetch.Source{Name: name, URL: url})
	}
	return sources, nil
}

func (r *run) applyTombstones() error {
	if !r.opts.AddTombstones {
		if r.census.partial > 0 {
			fmt.Fprintf(r.out, "%d partial commits not verified\n", r.census.partial)
		}
		return nil
	}
	if len(r.census.tombstones) > 0 {
		if err := r.st.EnableTombstones(); err != nil {
			return err
		}
	}
	for _, checksum := range r.census.tombstones {
		fmt.Fprintf(r.out, "Adding tombstone for commit %s\n", checksum)
		if err := r.st.Delete(object.ObjectID{Checksum: checksum, Kind: object.KindCommit}); err != nil {
			return err
		}
		r.result.TombstonesAdded++
	}
	return nil
}
