package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/pawsort/internal/grouping"
	"github.com/hyperjump/pawsort/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// photoTree lays out two reference classes and four incoming photos. The mock
// embedder keys photos by file name stem, so rex_10 lands with rex.
func photoTree(t *testing.T) (dir, refs, incoming string) {
	t.Helper()
	dir = t.TempDir()
	refs = filepath.Join(dir, "refs")
	incoming = filepath.Join(dir, "in")
	for _, p := range []string{"rex/rex_1.jpg", "rex/rex_2.jpg", "bella/bella_1.png"} {
		writeFile(t, filepath.Join(refs, p), "ref")
	}
	for _, p := range []string{"rex_10.jpg", "rex_11.jpg", "bella_10.jpg", "stray_1.jpg"} {
		writeFile(t, filepath.Join(incoming, p), "photo")
	}
	return dir, refs, incoming
}

func writeConfig(t *testing.T, dir, refs, incoming string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := `
session:
  incoming_dir: "` + incoming + `"
  reference_dir: "` + refs + `"
  unknown_threshold: 0.9
  batch_size: 2
storage:
  database_path: "` + filepath.Join(dir, "data", "exports.db") + `"
`
	writeFile(t, path, content)
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	writeFile(t, configPath, content)
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, `
server:
  host: "127.0.0.1"
  port: 9000
session:
  top_k: 50
`)
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Session.TopK != 20 {
		t.Errorf("top_k = %d, want clamped to 20", cfg.Session.TopK)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config")
	}
}

func TestLoadConfig_rejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "export:\n  target: ftp\n")
	if _, _, err := loadConfig(configPath); err == nil {
		t.Error("expected error for an unknown export target")
	}
}

func TestClassifyCommandJSON(t *testing.T) {
	dir, refs, incoming := photoTree(t)
	cfgPath := writeConfig(t, dir, refs, incoming)

	stdout, _, err := execute(t, "--config", cfgPath, "--mock", "classify", "--format", "json", "--progress=false")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var result grouping.Result
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if result.Total() != 4 {
		t.Fatalf("total = %d, want 4", result.Total())
	}
	var keys []string
	for _, b := range result.Buckets {
		keys = append(keys, b.Key)
	}
	if got := strings.Join(keys, ","); got != models.UnknownKey+",rex,bella" && got != models.UnknownKey+",bella,rex" {
		t.Errorf("bucket keys = %s", got)
	}
	if b, ok := result.Bucket("rex"); !ok || len(b.Items) != 2 {
		t.Errorf("rex bucket = %+v, want 2 photos", b)
	}
	unknown, ok := result.Bucket(models.UnknownKey)
	if !ok || len(unknown.Items) != 1 || filepath.Base(unknown.Items[0].SourceRef) != "stray_1.jpg" {
		t.Errorf("unknown bucket = %+v, want stray_1.jpg", unknown)
	}
}

func TestClassifyCommandExport(t *testing.T) {
	dir, refs, incoming := photoTree(t)
	cfgPath := writeConfig(t, dir, refs, incoming)
	out := filepath.Join(dir, "sorted")

	stdout, _, err := execute(t, "--config", cfgPath, "--mock", "classify", "--output", out, "--progress=false")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(stdout, "Grouped 4 photos into 3 buckets") {
		t.Errorf("missing summary in output:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Exported 4 photos to "+out) {
		t.Errorf("missing export line in output:\n%s", stdout)
	}
	for _, rel := range []string{"rex/img_00000.jpg", "rex/img_00001.jpg", "bella/img_00000.jpg", "unknown/img_00000.jpg"} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("expected exported file %s: %v", rel, err)
		}
	}

	stdout, _, err = execute(t, "--config", cfgPath, "exports", "--format", "json")
	if err != nil {
		t.Fatalf("exports: %v", err)
	}
	var recs []*models.ExportRecord
	if err := json.Unmarshal([]byte(stdout), &recs); err != nil {
		t.Fatalf("decode exports: %v\n%s", err, stdout)
	}
	if len(recs) != 1 || recs[0].Total != 4 || recs[0].Root != out {
		t.Errorf("unexpected export history: %+v", recs)
	}
}

func TestClassifyCommandFlagsOverrideConfig(t *testing.T) {
	dir, refs, incoming := photoTree(t)
	cfgPath := writeConfig(t, dir, filepath.Join(dir, "missing"), filepath.Join(dir, "missing"))

	_, _, err := execute(t, "--config", cfgPath, "--mock", "classify", "--progress=false")
	if err == nil || !strings.Contains(err.Error(), string(models.KindValidation)) {
		t.Fatalf("expected validation error for missing folders, got %v", err)
	}

	_, _, err = execute(t, "--config", cfgPath, "--mock", "classify", "--progress=false",
		"--reference", refs, "--incoming", incoming, "--threshold", "1", "--format", "json")
	if err != nil {
		t.Fatalf("classify with overrides: %v", err)
	}
}

func TestClassifyCommandBadFormat(t *testing.T) {
	dir, refs, incoming := photoTree(t)
	cfgPath := writeConfig(t, dir, refs, incoming)
	if _, _, err := execute(t, "--config", cfgPath, "--mock", "classify", "--format", "xml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	stdout, _, err := execute(t, "init", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(stdout, "wrote "+path) {
		t.Errorf("unexpected output %q", stdout)
	}
	if _, _, err := loadConfig(path); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
	if _, _, err := execute(t, "init", path); err == nil {
		t.Error("expected error when the file exists")
	}
	if _, _, err := execute(t, "init", "--force", path); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if stdout != "pawsort version dev\n" {
		t.Errorf("version output = %q", stdout)
	}
}
