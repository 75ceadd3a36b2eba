// Package installer turns a validated archive into an installed plugin
// directory under the plugins root. It owns entry-path safety end to end and
// never trusts the archive decoder to have normalized paths for it.
package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"paperline/internal/archive"
)

type Installer struct {
	Root      string
	Validator archive.Validator
}

// ExtractResult reports one install attempt. Conflict is distinct from
// Error: a conflicting name changed nothing on disk and the caller decides
// whether to retry with force.
type ExtractResult struct {
	Success     bool
	PluginName  string
	Conflict    bool
	Error       string
	Manifest    *archive.Manifest
	ArchiveType archive.Type
}

// Exists reports whether a directory for name exists under the plugins root.
// A plain file with the plugin's name does not count.
func (i Installer) Exists(name string) bool {
	if !safeName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(i.Root, name))
	return err == nil && info.IsDir()
}

// Remove recursively deletes the plugin's directory. Names carrying
// traversal characters are rejected outright; this is the last line of
// defense against a crafted name reaching outside the plugins root.
func (i Installer) Remove(name string) error {
	if !safeName(name) {
		return fmt.Errorf("path traversal detected in plugin name %q", name)
	}
	return os.RemoveAll(filepath.Join(i.Root, name))
}

// Extract validates the archive, resolves name conflicts, and writes the
// entries under the plugins root with the manifest-relative layout
// preserved. Validation failures report the validator's message and leave
// the filesystem untouched.
func (i Installer) Extract(data []byte, force bool) ExtractResult {
	res := i.Validator.Validate(data)
	if !res.Valid {
		return ExtractResult{Error: res.Error, ArchiveType: res.ArchiveType}
	}
	name := res.Manifest.Name
	if !safeName(name) {
		return ExtractResult{Error: fmt.Sprintf("path traversal detected in plugin name %q", name), ArchiveType: res.ArchiveType}
	}
	if i.Exists(name) {
		if !force {
			return ExtractResult{Conflict: true, PluginName: name, Manifest: res.Manifest, ArchiveType: res.ArchiveType}
		}
		if err := i.Remove(name); err != nil {
			return ExtractResult{Error: fmt.Sprintf("remove existing plugin: %v", err), ArchiveType: res.ArchiveType}
		}
	}
	if err := i.writeEntries(name, res.ManifestDir, res.Entries); err != nil {
		// Do not leave a half-written install behind.
		_ = os.RemoveAll(filepath.Join(i.Root, name))
		return ExtractResult{Error: err.Error(), ArchiveType: res.ArchiveType}
	}
	return ExtractResult{Success: true, PluginName: name, Manifest: res.Manifest, ArchiveType: res.ArchiveType}
}

func (i Installer) writeEntries(name, manifestDir string, entries []archive.Entry) error {
	pluginDir := filepath.Join(i.Root, name)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return fmt.Errorf("create plugin directory: %w", err)
	}
	for _, e := range entries {
		rel := e.Path
		if manifestDir != "" {
			trimmed := strings.TrimPrefix(rel, manifestDir+"/")
			if trimmed == rel && rel != manifestDir {
				// Entry outside the manifest's folder in a nested layout.
				continue
			}
			if rel == manifestDir {
				continue
			}
			rel = trimmed
		}
		target, err := resolveWithin(pluginDir, rel)
		if err != nil {
			return err
		}
		if e.Dir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, e.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

// resolveWithin joins rel under dir and re-verifies containment. The archive
// reader already normalizes entry paths; this check stands on its own.
func resolveWithin(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	relCheck, err := filepath.Rel(dir, target)
	if err != nil || relCheck == ".." || strings.HasPrefix(relCheck, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected in entry %q", rel)
	}
	return target, nil
}

func safeName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}
