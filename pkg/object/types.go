package object

import "fmt"

// Hash is a 64-character hex-encoded SHA-256 digest.
type Hash string

// Kind identifies the kind of object stored.
type Kind string

const (
	KindCommit  Kind = "commit"
	KindDirTree Kind = "dirtree"
	KindDirMeta Kind = "dirmeta"
	KindFile    Kind = "file"

	// KindTombstone marks a deleted commit whose ancestry is intentionally
	// incomplete. Tombstones carry no payload and are never verified.
	KindTombstone Kind = "commit-tombstone"
)

// IsMeta reports whether objects of this kind carry a structured,
// schema-validated payload.
func (k Kind) IsMeta() bool {
	switch k {
	case KindCommit, KindDirTree, KindDirMeta:
		return true
	}
	return false
}

// ObjectID is the identity of a stored object: content checksum plus kind.
// It is a comparable value type and is used directly as a map key.
type ObjectID struct {
	Checksum Hash
	Kind     Kind
}

// String renders the conventional "checksum.kind" form used in diagnostics.
func (id ObjectID) String() string {
	return fmt.Sprintf("%s.%s", id.Checksum, id.Kind)
}

// CommitState classifies a commit's replication state. It is store
// bookkeeping, trusted rather than recomputed.
type CommitState int

const (
	// StateComplete means all descendant objects are expected to be present.
	StateComplete CommitState = iota
	// StatePartial means some descendants are intentionally not replicated,
	// e.g. from a shallow pull. Partial commits are excluded from
	// reachability verification.
	StatePartial
)

// File mode bits follow the POSIX stat layout.
const (
	ModeTypeMask uint32 = 0o170000
	ModeDir      uint32 = 0o040000
	ModeRegular  uint32 = 0o100000
	ModeSymlink  uint32 = 0o120000
)

// Xattr is one extended attribute. Values are arbitrary bytes.
type Xattr struct {
	Name  string
	Value []byte
}

// CommitObj ties a root directory tree and its metadata to an optional
// parent commit.
type CommitObj struct {
	Tree      Hash // root dirtree checksum
	Meta      Hash // root dirmeta checksum
	Parent    Hash // empty for a root commit
	Timestamp int64
	Message   string
}

// FileRef is a named file entry in a directory tree.
type FileRef struct {
	Name     string
	Checksum Hash
}

// DirRef is a named subdirectory entry, referencing the subtree and its
// directory metadata.
type DirRef struct {
	Name string
	Tree Hash
	Meta Hash
}

// DirTreeObj holds the sorted file and subdirectory entries of one
// directory.
type DirTreeObj struct {
	Files []FileRef // sorted by Name
	Dirs  []DirRef  // sorted by Name
}

// DirMetaObj carries directory ownership, permissions and xattrs.
type DirMetaObj struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	Xattrs []Xattr
}

// FileObj is the loaded form of a content object: raw bytes plus POSIX
// mode bits and extended attributes. For symlinks, Data is the target path.
type FileObj struct {
	Mode   uint32
	Xattrs []Xattr
	Data   []byte
}
