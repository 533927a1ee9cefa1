package object

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is the recognized "object not found" condition. Every other
// load failure is an I/O error and is treated as fatal by callers.
var ErrNotFound = errors.New("object not found")

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...<rest>.<kind extension>.
// Metadata objects are stored as their raw canonical serialization;
// content objects are stored as the zstd-compressed canonical file stream.
type Store struct {
	root string
}

// Config holds repository-local settings: the tombstone feature flag and
// the named remotes usable as repair sources.
type Config struct {
	Core    CoreConfig        `toml:"core"`
	Remotes map[string]string `toml:"remotes,omitempty"`
}

// CoreConfig is the [core] section of config.toml.
type CoreConfig struct {
	TombstoneCommits bool `toml:"tombstone-commits"`
}

// Init creates a new repository at root: config.toml plus the objects/
// and state/ directories. Returns an error if a repository already exists.
func Init(root string) (*Store, error) {
	s := &Store{root: root}
	if _, err := os.Stat(s.configPath()); err == nil {
		return nil, fmt.Errorf("init: repository already exists at %s", root)
	}
	for _, d := range []string{
		filepath.Join(root, "objects"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}
	if err := s.WriteConfig(&Config{Remotes: make(map[string]string)}); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens an existing repository rooted at root.
func Open(root string) (*Store, error) {
	s := &Store{root: root}
	if _, err := os.Stat(s.configPath()); err != nil {
		return nil, fmt.Errorf("open: not a repository at %s: %w", root, err)
	}
	return s, nil
}

// Root returns the repository root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) configPath() string {
	return filepath.Join(s.root, "config.toml")
}

// ReadConfig decodes config.toml.
func (s *Store) ReadConfig() (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(s.configPath(), &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}
	return &cfg, nil
}

// WriteConfig atomically writes config.toml.
func (s *Store) WriteConfig(cfg *Config) error {
	tmp, err := os.CreateTemp(s.root, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, s.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// RemoteNames returns the configured remote names, sorted.
func (s *Store) RemoteNames() ([]string, error) {
	cfg, err := s.ReadConfig()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoteURL returns the configured base URL for the given remote name.
func (s *Store) RemoteURL(name string) (string, error) {
	cfg, err := s.ReadConfig()
	if err != nil {
		return "", err
	}
	url, ok := cfg.Remotes[name]
	if !ok || strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("remote %q is not configured", name)
	}
	return url, nil
}

// SetRemote stores/updates a named remote URL in the repository config.
func (s *Store) SetRemote(name, url string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	cfg.Remotes[name] = strings.TrimSpace(url)
	return s.WriteConfig(cfg)
}

// TombstonesEnabled reports whether deleted commits leave tombstone
// markers behind.
func (s *Store) TombstonesEnabled() (bool, error) {
	cfg, err := s.ReadConfig()
	if err != nil {
		return false, err
	}
	return cfg.Core.TombstoneCommits, nil
}

// EnableTombstones turns on the tombstone feature. Idempotent.
func (s *Store) EnableTombstones() error {
	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	if cfg.Core.TombstoneCommits {
		return nil
	}
	cfg.Core.TombstoneCommits = true
	return s.WriteConfig(cfg)
}

// ---------------------------------------------------------------------------
// Object layout
// ---------------------------------------------------------------------------

var kindExtensions = map[Kind]string{
	KindCommit:    "commit",
	KindDirTree:   "dirtree",
	KindDirMeta:   "dirmeta",
	KindFile:      "filez",
	KindTombstone: "commit-tombstone",
}

// RelativeObjectPath returns the store-relative path for an object,
// e.g. "objects/ab/cdef...123.filez". The same naming is used to build
// fetch URLs against a repair remote.
func RelativeObjectPath(id ObjectID) (string, error) {
	ext, ok := kindExtensions[id.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported object kind %q", id.Kind)
	}
	if err := ValidateHash(id.Checksum); err != nil {
		return "", err
	}
	c := string(id.Checksum)
	return "objects/" + c[:2] + "/" + c[2:] + "." + ext, nil
}

func (s *Store) objectPath(id ObjectID) (string, error) {
	rel, err := RelativeObjectPath(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}

// Has reports whether the store contains the given object.
func (s *Store) Has(id ObjectID) bool {
	p, err := s.objectPath(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// List enumerates every object in the store, including tombstone markers.
// Unrecognized files under objects/ are ignored. The result is sorted for
// deterministic iteration.
func (s *Store) List() ([]ObjectID, error) {
	var out []ObjectID
	objDir := filepath.Join(s.root, "objects")
	err := filepath.WalkDir(objDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		rest, ext, ok := strings.Cut(name, ".")
		if !ok {
			return nil
		}
		prefix := filepath.Base(filepath.Dir(path))
		checksum := Hash(prefix + rest)
		if ValidateHash(checksum) != nil {
			return nil
		}
		for kind, kext := range kindExtensions {
			if ext == kext {
				out = append(out, ObjectID{Checksum: checksum, Kind: kind})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Checksum != out[j].Checksum {
			return out[i].Checksum < out[j].Checksum
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// LoadMetadata reads the raw canonical serialization of a metadata object.
// A missing object yields ErrNotFound (via errors.Is).
func (s *Store) LoadMetadata(id ObjectID) ([]byte, error) {
	if !id.Kind.IsMeta() {
		return nil, fmt.Errorf("load metadata %s: not a metadata kind", id)
	}
	p, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load metadata %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load metadata %s: %w", id, err)
	}
	return data, nil
}

// LoadCommit reads and parses a commit object along with its replication
// state.
func (s *Store) LoadCommit(checksum Hash) (*CommitObj, CommitState, error) {
	data, err := s.LoadMetadata(ObjectID{Checksum: checksum, Kind: KindCommit})
	if err != nil {
		return nil, StateComplete, err
	}
	c, err := UnmarshalCommit(data)
	if err != nil {
		return nil, StateComplete, fmt.Errorf("load commit %s: %w", checksum, err)
	}
	state := StateComplete
	if _, err := os.Stat(s.partialMarkerPath(checksum)); err == nil {
		state = StatePartial
	}
	return c, state, nil
}

// LoadFileStream reads a content object and returns its decompressed
// canonical stream. A missing object yields ErrNotFound.
func (s *Store) LoadFileStream(checksum Hash) ([]byte, error) {
	id := ObjectID{Checksum: checksum, Kind: KindFile}
	p, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load file %s: %w", checksum, ErrNotFound)
		}
		return nil, fmt.Errorf("load file %s: %w", checksum, err)
	}
	stream, err := decompressZstd(raw)
	if err != nil {
		return nil, fmt.Errorf("load file %s: decompress: %w", checksum, err)
	}
	return stream, nil
}

// LoadFile reads and parses a content object.
func (s *Store) LoadFile(checksum Hash) (*FileObj, error) {
	stream, err := s.LoadFileStream(checksum)
	if err != nil {
		return nil, err
	}
	f, err := UnmarshalFileStream(stream)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", checksum, err)
	}
	return f, nil
}

// WriteMetadata stores a metadata object's canonical serialization and
// returns its checksum. Writes are atomic (temp file + rename).
func (s *Store) WriteMetadata(kind Kind, data []byte) (Hash, error) {
	if !kind.IsMeta() {
		return "", fmt.Errorf("write metadata: %q is not a metadata kind", kind)
	}
	h := HashBytes(data)
	id := ObjectID{Checksum: h, Kind: kind}
	if s.Has(id) {
		return h, nil
	}
	if err := s.writeObjectFile(id, data); err != nil {
		return "", err
	}
	return h, nil
}

// WriteFile stores a content object and returns its checksum.
func (s *Store) WriteFile(f *FileObj) (Hash, error) {
	stream := MarshalFileStream(f)
	h := HashBytes(stream)
	if _, err := s.WriteContent(h, stream); err != nil {
		return "", err
	}
	return h, nil
}

// WriteContent installs a content object from its canonical stream. The
// store computes the checksum itself; if the computed checksum disagrees
// with the expected one, nothing is installed and an error is returned
// alongside the actual digest. A corrupted or hostile source must never be
// able to install a mismatched object.
func (s *Store) WriteContent(expected Hash, stream []byte) (Hash, error) {
	actual := HashBytes(stream)
	if expected != "" && actual != expected {
		return actual, fmt.Errorf("write content: computed checksum %s does not match requested %s", actual, expected)
	}
	id := ObjectID{Checksum: actual, Kind: KindFile}
	if s.Has(id) {
		return actual, nil
	}
	compressed, err := compressZstd(stream)
	if err != nil {
		return actual, fmt.Errorf("write content %s: compress: %w", actual, err)
	}
	if err := s.writeObjectFile(id, compressed); err != nil {
		return actual, err
	}
	return actual, nil
}

// Delete removes an object. Deleting a commit while the tombstone feature
// is enabled materializes a tombstone marker in its place.
func (s *Store) Delete(id ObjectID) error {
	p, err := s.objectPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if id.Kind == KindCommit {
		os.Remove(s.partialMarkerPath(id.Checksum))
		enabled, err := s.TombstonesEnabled()
		if err != nil {
			return err
		}
		if enabled {
			tomb := ObjectID{Checksum: id.Checksum, Kind: KindTombstone}
			if err := s.writeObjectFile(tomb, nil); err != nil {
				return fmt.Errorf("delete %s: tombstone: %w", id, err)
			}
		}
	}
	return nil
}

func (s *Store) writeObjectFile(id ObjectID, data []byte) error {
	p, err := s.objectPath(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write %s: mkdir: %w", id, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: tmpfile: %w", id, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: close: %w", id, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: rename: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Replication state
// ---------------------------------------------------------------------------

func (s *Store) partialMarkerPath(checksum Hash) string {
	return filepath.Join(s.root, "state", string(checksum)+".commitpartial")
}

// MarkCommitPartial records that a commit's descendants are intentionally
// incomplete, e.g. after a shallow pull.
func (s *Store) MarkCommitPartial(checksum Hash) error {
	if err := ValidateHash(checksum); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.root, "state"), 0o755); err != nil {
		return fmt.Errorf("mark partial %s: %w", checksum, err)
	}
	if err := os.WriteFile(s.partialMarkerPath(checksum), nil, 0o644); err != nil {
		return fmt.Errorf("mark partial %s: %w", checksum, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// zstd codec for content objects
// ---------------------------------------------------------------------------

func compressZstd(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
