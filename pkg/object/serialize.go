package object

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonical serialization. The checksum that names an object is computed
// over exactly these bytes, so every codec here must be deterministic:
// entries and xattrs are sorted by name, and optional fields are omitted
// rather than written empty.

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	meta H
//	parent H     (omitted for root commits)
//	timestamp T
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.Tree))
	fmt.Fprintf(&buf, "meta %s\n", string(c.Meta))
	if c.Parent != "" {
		fmt.Fprintf(&buf, "parent %s\n", string(c.Parent))
	}
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			c.Tree = Hash(val)
		case "meta":
			c.Meta = Hash(val)
		case "parent":
			c.Parent = Hash(val)
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad timestamp %q: %w", val, err)
			}
			c.Timestamp = ts
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// DirTreeObj
// ---------------------------------------------------------------------------

// MarshalDirTree serializes a DirTreeObj. File entries come first, then
// directory entries, each group sorted by name. The name is the last field
// on the line so it may contain spaces:
//
//	file <checksum> <name>
//	dir <tree> <meta> <name>
func MarshalDirTree(tr *DirTreeObj) []byte {
	files := make([]FileRef, len(tr.Files))
	copy(files, tr.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	dirs := make([]DirRef, len(tr.Dirs))
	copy(dirs, tr.Dirs)
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })

	var buf bytes.Buffer
	for _, f := range files {
		fmt.Fprintf(&buf, "file %s %s\n", string(f.Checksum), f.Name)
	}
	for _, d := range dirs {
		fmt.Fprintf(&buf, "dir %s %s %s\n", string(d.Tree), string(d.Meta), d.Name)
	}
	return buf.Bytes()
}

// UnmarshalDirTree parses a DirTreeObj from its serialized form.
func UnmarshalDirTree(data []byte) (*DirTreeObj, error) {
	tr := &DirTreeObj{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "file "):
			parts := strings.SplitN(line[len("file "):], " ", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("unmarshal dirtree: malformed file entry %q", line)
			}
			tr.Files = append(tr.Files, FileRef{Name: parts[1], Checksum: Hash(parts[0])})
		case strings.HasPrefix(line, "dir "):
			parts := strings.SplitN(line[len("dir "):], " ", 3)
			if len(parts) != 3 {
				return nil, fmt.Errorf("unmarshal dirtree: malformed dir entry %q", line)
			}
			tr.Dirs = append(tr.Dirs, DirRef{Name: parts[2], Tree: Hash(parts[0]), Meta: Hash(parts[1])})
		default:
			return nil, fmt.Errorf("unmarshal dirtree: unknown entry %q", line)
		}
	}
	return tr, nil
}

// ---------------------------------------------------------------------------
// DirMetaObj
// ---------------------------------------------------------------------------

// MarshalDirMeta serializes a DirMetaObj. The mode is octal; xattr names
// and values are base64-encoded and sorted by name:
//
//	uid N
//	gid N
//	mode OOOOO
//	xattr <b64 name> <b64 value>
func MarshalDirMeta(m *DirMetaObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "uid %d\n", m.UID)
	fmt.Fprintf(&buf, "gid %d\n", m.GID)
	fmt.Fprintf(&buf, "mode %o\n", m.Mode)
	writeXattrs(&buf, m.Xattrs)
	return buf.Bytes()
}

// UnmarshalDirMeta parses a DirMetaObj from its serialized form.
func UnmarshalDirMeta(data []byte) (*DirMetaObj, error) {
	m := &DirMetaObj{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, fmt.Errorf("unmarshal dirmeta: empty payload")
	}
	for _, line := range strings.Split(text, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal dirmeta: malformed line %q", line)
		}
		switch key {
		case "uid":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad uid %q: %w", val, err)
			}
			m.UID = uint32(n)
		case "gid":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad gid %q: %w", val, err)
			}
			m.GID = uint32(n)
		case "mode":
			n, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad mode %q: %w", val, err)
			}
			m.Mode = uint32(n)
		case "xattr":
			x, err := parseXattr(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: %w", err)
			}
			m.Xattrs = append(m.Xattrs, x)
		default:
			return nil, fmt.Errorf("unmarshal dirmeta: unknown key %q", key)
		}
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// FileObj — the two-part content stream
// ---------------------------------------------------------------------------

// MarshalFileStream serializes a FileObj into its canonical two-part
// stream. The header carries the POSIX mode, sorted xattrs and the payload
// size; the payload follows a blank line. This stream is what gets
// checksummed, and what a repair remote serves (zstd-compressed):
//
//	mode OOOOO
//	xattr <b64 name> <b64 value>
//	size N
//
//	<content bytes>
func MarshalFileStream(f *FileObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "mode %o\n", f.Mode)
	writeXattrs(&buf, f.Xattrs)
	fmt.Fprintf(&buf, "size %d\n", len(f.Data))
	buf.WriteByte('\n')
	buf.Write(f.Data)
	return buf.Bytes()
}

// UnmarshalFileStream parses a FileObj from its canonical two-part stream.
func UnmarshalFileStream(data []byte) (*FileObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal file stream: missing header/payload separator")
	}
	header := string(data[:idx])
	payload := data[idx+2:]

	f := &FileObj{}
	size := -1
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal file stream: malformed header line %q", line)
		}
		switch key {
		case "mode":
			n, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal file stream: bad mode %q: %w", val, err)
			}
			f.Mode = uint32(n)
		case "xattr":
			x, err := parseXattr(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal file stream: %w", err)
			}
			f.Xattrs = append(f.Xattrs, x)
		case "size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal file stream: bad size %q: %w", val, err)
			}
			size = n
		default:
			return nil, fmt.Errorf("unmarshal file stream: unknown header key %q", key)
		}
	}
	if size < 0 {
		return nil, fmt.Errorf("unmarshal file stream: missing size header")
	}
	if len(payload) != size {
		return nil, fmt.Errorf("unmarshal file stream: size mismatch (header=%d, actual=%d)", size, len(payload))
	}
	f.Data = make([]byte, len(payload))
	copy(f.Data, payload)
	return f, nil
}

func writeXattrs(buf *bytes.Buffer, xattrs []Xattr) {
	sorted := make([]Xattr, len(xattrs))
	copy(sorted, xattrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, x := range sorted {
		fmt.Fprintf(buf, "xattr %s %s\n",
			base64.StdEncoding.EncodeToString([]byte(x.Name)),
			base64.StdEncoding.EncodeToString(x.Value))
	}
}

func parseXattr(val string) (Xattr, error) {
	nameB64, valueB64, ok := strings.Cut(val, " ")
	if !ok {
		return Xattr{}, fmt.Errorf("malformed xattr %q", val)
	}
	name, err := base64.StdEncoding.DecodeString(nameB64)
	if err != nil {
		return Xattr{}, fmt.Errorf("bad xattr name: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(valueB64)
	if err != nil {
		return Xattr{}, fmt.Errorf("bad xattr value: %w", err)
	}
	return Xattr{Name: string(name), Value: value}, nil
}
