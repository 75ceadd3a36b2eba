// Package archive inspects untrusted plugin bundles before anything is
// written to disk. It detects the container format by magic bytes, walks the
// entries with every path normalized to a safe relative form, and validates
// the embedded manifest.json against the install contract.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"
)

type Type string

const (
	TypeZip     Type = "zip"
	TypeGzip    Type = "gzip"
	TypeUnknown Type = "unknown"
)

// DetectType inspects leading magic bytes. Empty, truncated or unrecognized
// input is reported as unknown.
func DetectType(data []byte) Type {
	if len(data) < 2 {
		return TypeUnknown
	}
	if data[0] == 0x1F && data[1] == 0x8B {
		return TypeGzip
	}
	if len(data) >= 4 && data[0] == 'P' && data[1] == 'K' && data[2] == 0x03 && data[3] == 0x04 {
		return TypeZip
	}
	return TypeUnknown
}

// Entry is one file or directory from an archive, with its path already
// normalized relative to the archive root.
type Entry struct {
	Path string
	Dir  bool
	Data []byte
}

// ReadEntries decodes all entries of a zip or gzip(tar) archive. Entries
// whose paths normalize to nothing (pure traversal, absolute roots) are
// dropped rather than reported, so callers only ever see safe relative
// paths.
func ReadEntries(data []byte, typ Type) ([]Entry, error) {
	switch typ {
	case TypeZip:
		return readZipEntries(data)
	case TypeGzip:
		return readTarGzEntries(data)
	default:
		return nil, fmt.Errorf("unsupported archive type %q", typ)
	}
}

func readZipEntries(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read zip: %w", err)
	}
	var entries []Entry
	for _, f := range zr.File {
		name := NormalizePath(f.Name)
		if name == "" {
			continue
		}
		if f.FileInfo().IsDir() {
			entries = append(entries, Entry{Path: name, Dir: true})
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
		}
		entries = append(entries, Entry{Path: name, Data: content})
	}
	return entries, nil
}

func readTarGzEntries(data []byte) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		name := NormalizePath(hdr.Name)
		if name == "" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			entries = append(entries, Entry{Path: name, Dir: true})
		case tar.TypeReg:
			content, err := io.ReadAll(io.LimitReader(tr, maxEntryBytes))
			if err != nil {
				return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
			}
			entries = append(entries, Entry{Path: name, Data: content})
		}
	}
	return entries, nil
}

// Per-entry decompression cap. The whole-archive size ceiling bounds the
// upload; this bounds what a single entry may inflate to.
const maxEntryBytes = 256 << 20

// NormalizePath collapses an untrusted entry path to a safe relative form:
// backslashes become slashes, absolute prefixes are stripped, and "." or
// ".." segments are dropped entirely. Returns "" when nothing safe remains.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	parts := strings.Split(p, "/")
	safe := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		safe = append(safe, part)
	}
	return strings.Join(safe, "/")
}
