package archive

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Manifest is the plugin's declared identity, read from manifest.json inside
// its archive.
type Manifest struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"displayName"`
	Version      string   `json:"version"`
	APIVersion   string   `json:"apiVersion"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ValidationResult is a structured outcome: validation failures are values,
// not errors, so callers can branch without unwrapping.
type ValidationResult struct {
	Valid       bool
	Error       string
	Manifest    *Manifest
	ArchiveType Type
	// ManifestDir is the directory prefix holding manifest.json ("" when the
	// manifest sits at the archive root). Extraction strips it so installed
	// layouts are manifest-relative.
	ManifestDir string
	Entries     []Entry
}

// Validator holds the install-time contract limits.
type Validator struct {
	MaxBytes    int64
	APIVersions []string
}

// Validate runs the contract gate in order, short-circuiting on the first
// violation: format, size, manifest presence (root or one level deep), JSON
// shape, required fields (name, displayName, version), and API version.
func (v Validator) Validate(data []byte) ValidationResult {
	typ := DetectType(data)
	if typ == TypeUnknown {
		return ValidationResult{Error: "Unsupported archive format"}
	}
	if v.MaxBytes > 0 && int64(len(data)) >= v.MaxBytes {
		return ValidationResult{ArchiveType: typ, Error: fmt.Sprintf("archive exceeds maximum size of %d bytes", v.MaxBytes)}
	}
	entries, err := ReadEntries(data, typ)
	if err != nil {
		return ValidationResult{ArchiveType: typ, Error: fmt.Sprintf("unable to read archive: %v", err)}
	}
	manifestEntry, manifestDir, ok := findManifest(entries)
	if !ok {
		return ValidationResult{ArchiveType: typ, Error: "archive does not contain a manifest.json"}
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestEntry.Data, &manifest); err != nil {
		return ValidationResult{ArchiveType: typ, Error: "manifest.json is invalid JSON"}
	}
	for _, field := range []struct{ name, value string }{
		{"name", manifest.Name},
		{"displayName", manifest.DisplayName},
		{"version", manifest.Version},
	} {
		if strings.TrimSpace(field.value) == "" {
			return ValidationResult{ArchiveType: typ, Error: "missing required field: " + field.name}
		}
	}
	if !v.supportsAPIVersion(manifest.APIVersion) {
		return ValidationResult{ArchiveType: typ, Error: fmt.Sprintf("Unsupported API version: %q", manifest.APIVersion)}
	}
	return ValidationResult{
		Valid:       true,
		Manifest:    &manifest,
		ArchiveType: typ,
		ManifestDir: manifestDir,
		Entries:     entries,
	}
}

func (v Validator) supportsAPIVersion(version string) bool {
	for _, supported := range v.APIVersions {
		if version == supported {
			return true
		}
	}
	return false
}

// findManifest looks for manifest.json at the archive root, then exactly one
// directory level deep (nested-folder layouts produced by zipping a plugin
// directory instead of its contents).
func findManifest(entries []Entry) (Entry, string, bool) {
	for _, e := range entries {
		if !e.Dir && e.Path == "manifest.json" {
			return e, "", true
		}
	}
	for _, e := range entries {
		if e.Dir {
			continue
		}
		dir, file, found := strings.Cut(e.Path, "/")
		if found && file == "manifest.json" {
			return e, dir, true
		}
	}
	return Entry{}, "", false
}
