package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar entry %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

const validManifest = `{"name":"hello","displayName":"Hello","version":"1.0.0","apiVersion":"1.0"}`

func testValidator() Validator {
	return Validator{MaxBytes: 1 << 20, APIVersions: []string{"1.0", "1.1"}}
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Type
	}{
		{"empty", nil, TypeUnknown},
		{"one byte", []byte{0x1F}, TypeUnknown},
		{"gzip magic", []byte{0x1F, 0x8B, 0x08, 0x00}, TypeGzip},
		{"zip magic", []byte{'P', 'K', 0x03, 0x04, 0x00}, TypeZip},
		{"zip magic truncated", []byte{'P', 'K'}, TypeUnknown},
		{"text", []byte("hello world"), TypeUnknown},
	}
	for _, tc := range cases {
		if got := DetectType(tc.data); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plugin/main.js", "plugin/main.js"},
		{`plugin\main.js`, "plugin/main.js"},
		{"/etc/passwd", "etc/passwd"},
		{"../../etc/passwd", "etc/passwd"},
		{"a/./b", "a/b"},
		{"..", ""},
		{".", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateUnknownFormat(t *testing.T) {
	res := testValidator().Validate([]byte("not an archive"))
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !strings.Contains(res.Error, "Unsupported archive format") {
		t.Fatalf("unexpected error: %s", res.Error)
	}
}

func TestValidateSizeCeiling(t *testing.T) {
	data := makeZip(t, map[string]string{"manifest.json": validManifest})
	v := Validator{MaxBytes: int64(len(data)), APIVersions: []string{"1.0"}}
	res := v.Validate(data)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !strings.Contains(res.Error, "exceeds maximum size") {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	// One byte of headroom and the same archive passes.
	v.MaxBytes = int64(len(data)) + 1
	if res := v.Validate(data); !res.Valid {
		t.Fatalf("expected valid, got %s", res.Error)
	}
}

func TestValidateMissingManifest(t *testing.T) {
	data := makeZip(t, map[string]string{"main.js": "console.log('hi')"})
	res := testValidator().Validate(data)
	if res.Valid || !strings.Contains(res.Error, "does not contain a manifest.json") {
		t.Fatalf("unexpected result: valid=%v error=%s", res.Valid, res.Error)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	data := makeZip(t, map[string]string{"manifest.json": "{not json"})
	res := testValidator().Validate(data)
	if res.Valid || !strings.Contains(res.Error, "invalid JSON") {
		t.Fatalf("unexpected result: valid=%v error=%s", res.Valid, res.Error)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		manifest string
		field    string
	}{
		{`{"displayName":"X","version":"1.0.0","apiVersion":"1.0"}`, "name"},
		{`{"name":"x","version":"1.0.0","apiVersion":"1.0"}`, "displayName"},
		{`{"name":"x","displayName":"X","apiVersion":"1.0"}`, "version"},
		// Whitespace-only counts as missing.
		{`{"name":"  ","displayName":"X","version":"1.0.0","apiVersion":"1.0"}`, "name"},
	}
	for _, tc := range cases {
		data := makeZip(t, map[string]string{"manifest.json": tc.manifest})
		res := testValidator().Validate(data)
		want := "missing required field: " + tc.field
		if res.Valid || !strings.Contains(res.Error, want) {
			t.Errorf("manifest %s: got valid=%v error=%q, want %q", tc.manifest, res.Valid, res.Error, want)
		}
	}
}

func TestValidateUnsupportedAPIVersion(t *testing.T) {
	manifest := `{"name":"x","displayName":"X","version":"1.0.0","apiVersion":"9.9"}`
	data := makeZip(t, map[string]string{"manifest.json": manifest})
	res := testValidator().Validate(data)
	if res.Valid || !strings.Contains(res.Error, "Unsupported API version") {
		t.Fatalf("unexpected result: valid=%v error=%s", res.Valid, res.Error)
	}
}

func TestValidateRootManifest(t *testing.T) {
	data := makeZip(t, map[string]string{
		"manifest.json": validManifest,
		"main.js":       "exports.run = () => {}",
	})
	res := testValidator().Validate(data)
	if !res.Valid {
		t.Fatalf("expected valid, got %s", res.Error)
	}
	if res.Manifest.Name != "hello" || res.Manifest.Version != "1.0.0" {
		t.Fatalf("unexpected manifest: %+v", res.Manifest)
	}
	if res.ManifestDir != "" {
		t.Fatalf("expected root manifest dir, got %q", res.ManifestDir)
	}
	if res.ArchiveType != TypeZip {
		t.Fatalf("expected zip type, got %s", res.ArchiveType)
	}
}

func TestValidateNestedManifest(t *testing.T) {
	data := makeZip(t, map[string]string{
		"hello-plugin/manifest.json": validManifest,
		"hello-plugin/main.js":       "exports.run = () => {}",
	})
	res := testValidator().Validate(data)
	if !res.Valid {
		t.Fatalf("expected valid, got %s", res.Error)
	}
	if res.ManifestDir != "hello-plugin" {
		t.Fatalf("expected manifest dir hello-plugin, got %q", res.ManifestDir)
	}
}

func TestValidateManifestTooDeep(t *testing.T) {
	data := makeZip(t, map[string]string{"a/b/manifest.json": validManifest})
	res := testValidator().Validate(data)
	if res.Valid || !strings.Contains(res.Error, "does not contain a manifest.json") {
		t.Fatalf("unexpected result: valid=%v error=%s", res.Valid, res.Error)
	}
}

func TestValidateTarGz(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"manifest.json": validManifest,
		"main.js":       "exports.run = () => {}",
	})
	res := testValidator().Validate(data)
	if !res.Valid {
		t.Fatalf("expected valid, got %s", res.Error)
	}
	if res.ArchiveType != TypeGzip {
		t.Fatalf("expected gzip type, got %s", res.ArchiveType)
	}
}

func TestReadEntriesDropsTraversal(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"manifest.json":     validManifest,
		"../../escape.txt":  "bad",
		"/abs/path/etc.txt": "bad",
	})
	entries, err := ReadEntries(data, TypeGzip)
	if err != nil {
		t.Fatalf("read entries: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Path, "..") || strings.HasPrefix(e.Path, "/") {
			t.Fatalf("unsafe entry path survived: %q", e.Path)
		}
	}
}
