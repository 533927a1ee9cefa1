package object

import "fmt"

// Structural validators check shape and field presence only, not content
// semantics. They run against loaded records during a verification pass,
// before the checksum is recomputed.

// ValidateCommit checks the structural schema of a commit record.
func ValidateCommit(c *CommitObj) error {
	if err := ValidateHash(c.Tree); err != nil {
		return fmt.Errorf("commit tree: %w", err)
	}
	if err := ValidateHash(c.Meta); err != nil {
		return fmt.Errorf("commit meta: %w", err)
	}
	if c.Parent != "" {
		if err := ValidateHash(c.Parent); err != nil {
			return fmt.Errorf("commit parent: %w", err)
		}
	}
	if c.Timestamp < 0 {
		return fmt.Errorf("commit timestamp %d is negative", c.Timestamp)
	}
	return nil
}

// ValidateDirTree checks the structural schema of a directory tree record:
// valid checksums, legal entry names, and canonical (strictly sorted)
// ordering within each entry group.
func ValidateDirTree(tr *DirTreeObj) error {
	for i, f := range tr.Files {
		if err := validateEntryName(f.Name); err != nil {
			return fmt.Errorf("file entry %d: %w", i, err)
		}
		if err := ValidateHash(f.Checksum); err != nil {
			return fmt.Errorf("file entry %q: %w", f.Name, err)
		}
		if i > 0 && tr.Files[i-1].Name >= f.Name {
			return fmt.Errorf("file entries not sorted at %q", f.Name)
		}
	}
	for i, d := range tr.Dirs {
		if err := validateEntryName(d.Name); err != nil {
			return fmt.Errorf("dir entry %d: %w", i, err)
		}
		if err := ValidateHash(d.Tree); err != nil {
			return fmt.Errorf("dir entry %q tree: %w", d.Name, err)
		}
		if err := ValidateHash(d.Meta); err != nil {
			return fmt.Errorf("dir entry %q meta: %w", d.Name, err)
		}
		if i > 0 && tr.Dirs[i-1].Name >= d.Name {
			return fmt.Errorf("dir entries not sorted at %q", d.Name)
		}
	}
	return nil
}

// ValidateDirMeta checks the structural schema of a directory metadata
// record. The mode's file type bits must encode a directory.
func ValidateDirMeta(m *DirMetaObj) error {
	if m.Mode&ModeTypeMask != ModeDir {
		return fmt.Errorf("dirmeta mode %o does not encode a directory", m.Mode)
	}
	for _, x := range m.Xattrs {
		if x.Name == "" {
			return fmt.Errorf("dirmeta has xattr with empty name")
		}
	}
	return nil
}

// ValidateFileMode checks that the POSIX mode bits of a content object
// encode a supported file type (regular file or symlink).
func ValidateFileMode(mode uint32) error {
	switch mode & ModeTypeMask {
	case ModeRegular, ModeSymlink:
		return nil
	}
	return fmt.Errorf("file mode %o does not encode a regular file or symlink", mode)
}

func validateEntryName(name string) error {
	if name == "" {
		return fmt.Errorf("empty entry name")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("illegal entry name %q", name)
	}
	for _, c := range name {
		if c == '/' || c == '\n' {
			return fmt.Errorf("entry name %q contains illegal character", name)
		}
	}
	return nil
}
