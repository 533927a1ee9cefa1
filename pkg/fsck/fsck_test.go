package fsck

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/fenwickgrove/arbor/pkg/object"
)

type fixture struct {
	st     *object.Store
	commit object.Hash
	fileA  object.Hash
	fileB  object.Hash
	meta   object.Hash
	tree   object.Hash
}

// newFixture initializes a repository holding one commit over a flat tree
// with two file objects.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := object.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return populate(t, st)
}

// populate writes the fixture content into st. The content is a function
// of nothing but this code, so two populated stores hold identical
// objects.
func populate(t *testing.T, st *object.Store) *fixture {
	t.Helper()
	f := &fixture{st: st}
	var err error
	f.fileA, err = st.WriteFile(&object.FileObj{Mode: object.ModeRegular | 0o644, Data: []byte("alpha contents")})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f.fileB, err = st.WriteFile(&object.FileObj{Mode: object.ModeRegular | 0o755, Data: bytes.Repeat([]byte("beta"), 512)})
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f.meta, err = st.WriteMetadata(object.KindDirMeta, object.MarshalDirMeta(&object.DirMetaObj{Mode: object.ModeDir | 0o755}))
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	f.tree, err = st.WriteMetadata(object.KindDirTree, object.MarshalDirTree(&object.DirTreeObj{
		Files: []object.FileRef{
			{Name: "a.txt", Checksum: f.fileA},
			{Name: "b.bin", Checksum: f.fileB},
		},
	}))
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	f.commit, err = st.WriteMetadata(object.KindCommit, object.MarshalCommit(&object.CommitObj{
		Tree: f.tree, Meta: f.meta, Timestamp: 1700000000, Message: "snapshot",
	}))
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	return f
}

// overwriteObject replaces the on-disk bytes of id with a different but
// structurally valid payload, producing a checksum mismatch rather than a
// parse failure.
func overwriteObject(t *testing.T, st *object.Store, id object.ObjectID, stream []byte) {
	t.Helper()
	raw := stream
	if id.Kind == object.KindFile {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd.NewWriter: %v", err)
		}
		raw = enc.EncodeAll(stream, nil)
		enc.Close()
	}
	rel, err := object.RelativeObjectPath(id)
	if err != nil {
		t.Fatalf("RelativeObjectPath: %v", err)
	}
	if err := os.WriteFile(filepath.Join(st.Root(), filepath.FromSlash(rel)), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func quietRun(ctx context.Context, st *object.Store, opts Options) (*Result, error) {
	opts.Quiet = true
	if opts.Out == nil {
		opts.Out = &bytes.Buffer{}
	}
	if opts.Errout == nil {
		opts.Errout = &bytes.Buffer{}
	}
	return Run(ctx, st, opts)
}

func TestRunCleanRepository(t *testing.T) {
	f := newFixture(t)
	res, err := quietRun(context.Background(), f.st, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// commit + dirtree + dirmeta + two files
	if res.ObjectsChecked != 5 {
		t.Errorf("ObjectsChecked: got %d, want 5", res.ObjectsChecked)
	}
	if res.BytesChecked == 0 {
		t.Error("BytesChecked is zero")
	}
	if res.CorruptionFound {
		t.Error("clean repository reported corruption")
	}
}

func TestRunCorruptedFileNoFlagsFatal(t *testing.T) {
	f := newFixture(t)
	overwriteObject(t, f.st, object.ObjectID{Checksum: f.fileA, Kind: object.KindFile},
		object.MarshalFileStream(&object.FileObj{Mode: object.ModeRegular | 0o644, Data: []byte("tampered")}))

	_, err := quietRun(context.Background(), f.st, Options{})
	if err == nil {
		t.Fatal("corrupted object with no remediation should abort the run")
	}
	if errors.Is(err, ErrCorruption) {
		t.Error("mismatch without remediation must be a direct error, not ErrCorruption")
	}
	if !strings.Contains(err.Error(), "corrupted object") || !strings.Contains(err.Error(), string(f.fileA)) {
		t.Errorf("error lacks object identity: %v", err)
	}
	if !strings.Contains(err.Error(), "actual checksum") {
		t.Errorf("error lacks recomputed checksum: %v", err)
	}
	if !f.st.Has(object.ObjectID{Checksum: f.fileA, Kind: object.KindFile}) {
		t.Error("object deleted although --delete was not given")
	}
}

func TestRunCorruptedFileDelete(t *testing.T) {
	f := newFixture(t)
	id := object.ObjectID{Checksum: f.fileA, Kind: object.KindFile}
	overwriteObject(t, f.st, id,
		object.MarshalFileStream(&object.FileObj{Mode: object.ModeRegular | 0o644, Data: []byte("tampered")}))

	res, err := quietRun(context.Background(), f.st, Options{Delete: true})
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got: %v", err)
	}
	if !res.CorruptionFound {
		t.Error("CorruptionFound not set")
	}
	if f.st.Has(id) {
		t.Error("corrupted object still present after --delete")
	}
}

func TestRunMissingFileNoRepair(t *testing.T) {
	f := newFixture(t)
	id := object.ObjectID{Checksum: f.fileA, Kind: object.KindFile}
	if err := f.st.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var errout bytes.Buffer
	res, err := quietRun(context.Background(), f.st, Options{Errout: &errout})
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption, got: %v", err)
	}
	if !res.CorruptionFound {
		t.Error("CorruptionFound not set")
	}
	if !strings.Contains(errout.String(), "Object missing") {
		t.Errorf("missing diagnostic not printed, got: %q", errout.String())
	}
}

// mirrorServer serves the object tree of a second repository holding the
// same content, the way a static file server fronting a repository would.
func mirrorServer(t *testing.T) *httptest.Server {
	t.Helper()
	mirror, err := object.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init mirror: %v", err)
	}
	populate(t, mirror)
	srv := httptest.NewServer(http.FileServer(http.Dir(mirror.Root())))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunRepairCorruptedFile(t *testing.T) {
	f := newFixture(t)
	srv := mirrorServer(t)
	if err := f.st.SetRemote("origin", srv.URL); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	id := object.ObjectID{Checksum: f.fileA, Kind: object.KindFile}
	overwriteObject(t, f.st, id,
		object.MarshalFileStream(&object.FileObj{Mode: object.ModeRegular | 0o644, Data: []byte("tampered")}))

	res, err := quietRun(context.Background(), f.st, Options{RepairFrom: []string{"origin"}})
	if err != nil {
		t.Fatalf("Run with repair: %v", err)
	}
	if res.ObjectsRepaired != 1 {
		t.Errorf("ObjectsRepaired: got %d, want 1", res.ObjectsRepaired)
	}
	got, err := f.st.LoadFile(f.fileA)
	if err != nil {
		t.Fatalf("LoadFile after repair: %v", err)
	}
	if !bytes.Equal(got.Data, []byte("alpha contents")) {
		t.Errorf("repaired content: got %q", got.Data)
	}
}

func TestRunRepairMissingFile(t *testing.T) {
	f := newFixture(t)
	srv := mirrorServer(t)
	if err := f.st.SetRemote("origin", srv.URL); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	id := object.ObjectID{Checksum: f.fileB, Kind: object.KindFile}
	if err := f.st.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := quietRun(context.Background(), f.st, Options{RepairFrom: []string{"-"}})
	if err != nil {
		t.Fatalf("Run with repair: %v", err)
	}
	if res.ObjectsRepaired != 1 {
		t.Errorf("ObjectsRepaired: got %d, want 1", res.ObjectsRepaired)
	}
	if !f.st.Has(id) {
		t.Error("missing object not reinstalled")
	}
}

func TestRunMetadataNotRepairable(t *testing.T) {
	f := newFixture(t)
	srv := mirrorServer(t)
	if err := f.st.SetRemote("origin", srv.URL); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}

	id := object.ObjectID{Checksum: f.meta, Kind: object.KindDirMeta}
	if err := f.st.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var errout bytes.Buffer
	_, err := quietRun(context.Background(), f.st, Options{RepairFrom: []string{"origin"}, Errout: &errout})
	if !errors.Is(err, ErrCorruption) {
		t.Fatalf("expected ErrCorruption for missing metadata, got: %v", err)
	}
	if !strings.Contains(errout.String(), "not implemented") {
		t.Errorf("expected not-implemented diagnostic, got: %q", errout.String())
	}
}

func TestRunMalformedMetadataFatal(t *testing.T) {
	f := newFixture(t)
	// A dirmeta that claims a regular-file mode parses but fails
	// validation, which is fatal regardless of remediation flags.
	overwriteObject(t, f.st, object.ObjectID{Checksum: f.meta, Kind: object.KindDirMeta},
		object.MarshalDirMeta(&object.DirMetaObj{Mode: object.ModeRegular | 0o644}))

	_, err := quietRun(context.Background(), f.st, Options{Delete: true})
	if err == nil || errors.Is(err, ErrCorruption) {
		t.Fatalf("structural invalidity should abort the run, got: %v", err)
	}
	if !strings.Contains(err.Error(), "while validating directory metadata") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunPartialCommitExcluded(t *testing.T) {
	f := newFixture(t)
	if err := f.st.MarkCommitPartial(f.commit); err != nil {
		t.Fatalf("MarkCommitPartial: %v", err)
	}
	// The tree behind the partial commit may legitimately be incomplete.
	if err := f.st.Delete(object.ObjectID{Checksum: f.fileA, Kind: object.KindFile}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := quietRun(context.Background(), f.st, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PartialCommits != 1 {
		t.Errorf("PartialCommits: got %d, want 1", res.PartialCommits)
	}
	if res.ObjectsChecked != 0 {
		t.Errorf("ObjectsChecked: got %d, want 0", res.ObjectsChecked)
	}
}

func TestRunTombstoneForMissingParent(t *testing.T) {
	f := newFixture(t)
	c, _, err := f.st.LoadCommit(f.commit)
	if err != nil {
		t.Fatalf("LoadCommit: %v", err)
	}
	child, err := f.st.WriteMetadata(object.KindCommit, object.MarshalCommit(&object.CommitObj{
		Tree: c.Tree, Meta: c.Meta, Parent: f.commit, Timestamp: 1700000001, Message: "child",
	}))
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := f.st.Delete(object.ObjectID{Checksum: f.commit, Kind: object.KindCommit}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	res, err := quietRun(context.Background(), f.st, Options{AddTombstones: true})
	if err != nil {
		t.Fatalf("Run with tombstones: %v", err)
	}
	if res.TombstonesAdded != 1 {
		t.Errorf("TombstonesAdded: got %d, want 1", res.TombstonesAdded)
	}
	if f.st.Has(object.ObjectID{Checksum: child, Kind: object.KindCommit}) {
		t.Error("commit with unresolvable parent still present")
	}
	if !f.st.Has(object.ObjectID{Checksum: child, Kind: object.KindTombstone}) {
		t.Error("tombstone not materialized")
	}

	// The repository is consistent afterwards.
	if _, err := quietRun(context.Background(), f.st, Options{AddTombstones: true}); err != nil {
		t.Errorf("second run after tombstoning: %v", err)
	}
}

func TestRunRepairSourceValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := quietRun(context.Background(), f.st, Options{RepairFrom: []string{"-", "origin"}}); err == nil {
		t.Error("mixing - with explicit remote names should fail")
	}
	if _, err := quietRun(context.Background(), f.st, Options{RepairFrom: []string{"nosuch"}}); err == nil {
		t.Error("unknown remote name should fail before any verification")
	}
}

func TestRunCanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := quietRun(ctx, f.st, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}
