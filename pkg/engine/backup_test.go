package engine

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/state"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// fixedClock returns successive times one second apart.
func fixedClock(start time.Time) func() time.Time {
	current := start.Add(-time.Second)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestBackupManager(t *testing.T, opts ...BackupOption) (*BackupManager, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".claude")
	writeTree(t, dir, map[string]string{
		"CLAUDE.md":                   "# user\n",
		"FLAGS.md":                    "flags",
		"modes/MODE_Brainstorming.md": "mode",
		"backups/old.tar.gz":          "not archived",
		"local/private.md":            "not archived",
	})
	base := []BackupOption{WithBackupLogger(telemetry.Nop())}
	return NewBackupManager(dir, append(base, opts...)...), dir
}

func TestBackupManager_Create(t *testing.T) {
	m, dir := newTestBackupManager(t)
	st := state.NewStore(dir, telemetry.Nop())
	if err := st.AddComponentRegistration("core", state.Object(map[string]state.Value{
		"version": state.String("4.0.8"),
	})); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "backups", "old.tar.gz")); err != nil {
		t.Fatal(err)
	}

	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.Empty {
		t.Fatal("Expected a non-empty backup")
	}
	if !strings.HasPrefix(filepath.Base(res.Path), DefaultBackupPrefix+"_") || !strings.HasSuffix(res.Path, ".tar.gz") {
		t.Errorf("Unexpected archive name: %s", res.Path)
	}

	members := readMembers(t, res.Path)
	if members[0] != BackupMetadataMember {
		t.Errorf("Expected metadata first, got %v", members)
	}
	for _, want := range []string{"CLAUDE.md", "FLAGS.md", "modes/MODE_Brainstorming.md", state.MetadataFile} {
		if !contains(members, want) {
			t.Errorf("Expected member %s, got %v", want, members)
		}
	}
	for _, member := range members {
		if strings.HasPrefix(member, "backups/") || strings.HasPrefix(member, "local/") {
			t.Errorf("Excluded member archived: %s", member)
		}
	}

	info, err := m.Info(res.Path)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Metadata == nil {
		t.Fatal("Expected metadata")
	}
	if info.Metadata.Components["core"] != "4.0.8" {
		t.Errorf("Expected core 4.0.8 in metadata, got %v", info.Metadata.Components)
	}
	if info.Files != res.Files {
		t.Errorf("Expected %d files, got %d", res.Files, info.Files)
	}
}

func TestBackupManager_CreateEmptyWritesMarker(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".claude")
	if err := os.MkdirAll(filepath.Join(dir, "backups"), 0755); err != nil {
		t.Fatal(err)
	}
	rec := telemetry.NewRecorder()
	m := NewBackupManager(dir, WithBackupLogger(rec))

	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !res.Empty {
		t.Error("Expected an empty marker")
	}
	st, err := os.Stat(res.Path)
	if err != nil {
		t.Fatalf("Marker missing: %v", err)
	}
	if st.Size() != 0 {
		t.Errorf("Expected zero-byte marker, got %d bytes", st.Size())
	}
	if !rec.Contains("warn", "nothing to back up") {
		t.Error("Expected empty backup warning")
	}

	if _, err := m.Restore(res.Path, RestoreOptions{}); err == nil {
		t.Error("Expected restore of an empty marker to fail")
	}
}

func TestBackupManager_CreateFlagsArchiveWithoutFiles(t *testing.T) {
	rec := telemetry.NewRecorder()
	m, _ := newTestBackupManager(t, WithBackupLogger(rec))
	m.archiveFile = func(*tar.Writer, string, string) (bool, error) { return false, nil }

	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !res.Empty || res.Files != 0 {
		t.Errorf("Expected an empty result, got %+v", res)
	}
	if !rec.Contains("warn", "no files could be archived") {
		t.Error("Expected a warning about the metadata-only archive")
	}
	if rec.Contains("", "backed up") {
		t.Error("Expected no success message")
	}

	info, err := m.Info(res.Path)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if !info.Empty || info.Metadata == nil {
		t.Errorf("Expected a metadata-only archive, got %+v", info)
	}
}

func TestBackupManager_Compression(t *testing.T) {
	m, _ := newTestBackupManager(t)

	if _, err := m.Create(CreateOptions{Compression: CompressionBzip2}); !HasCode(err, ErrCodeBackupFailed) {
		t.Errorf("Expected bzip2 to be rejected, got: %v", err)
	}

	res, err := m.Create(CreateOptions{Name: "plain", Compression: CompressionNone})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasSuffix(res.Path, ".tar") || !strings.HasPrefix(filepath.Base(res.Path), "plain_") {
		t.Errorf("Unexpected archive name: %s", res.Path)
	}
	if info, err := m.Info(res.Path); err != nil || info.Metadata == nil {
		t.Errorf("Expected readable plain archive, got %v", err)
	}

	if _, err := ParseCompression("zip"); err == nil {
		t.Error("Expected unknown compression error")
	}
	if c, _ := ParseCompression(""); c != CompressionGzip {
		t.Errorf("Expected gzip default, got %s", c)
	}
}

func TestBackupManager_DryRun(t *testing.T) {
	m, dir := newTestBackupManager(t, WithBackupDryRun(true))

	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !res.DryRun || res.Files != 3 {
		t.Errorf("Expected dry-run result with 3 files, got %+v", res)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "backups"))
	if len(entries) != 1 {
		t.Errorf("Expected no new archive, got %d entries", len(entries))
	}
}

func TestBackupManager_ListAndCleanup(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, dir := newTestBackupManager(t, WithBackupClock(fixedClock(start)))
	if err := os.Remove(filepath.Join(dir, "backups", "old.tar.gz")); err != nil {
		t.Fatal(err)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		res, err := m.Create(CreateOptions{})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		paths = append(paths, res.Path)
		mtime := start.Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(res.Path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	backups, err := m.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(backups) != 3 {
		t.Fatalf("Expected 3 backups, got %d", len(backups))
	}
	if backups[0].Path != paths[2] || backups[2].Path != paths[0] {
		t.Errorf("Expected newest first, got %s, %s, %s", backups[0].Name, backups[1].Name, backups[2].Name)
	}

	removed, err := m.Cleanup(2, 0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != paths[0] {
		t.Errorf("Expected oldest removed, got %v", removed)
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("Expected oldest archive to be deleted")
	}
}

func TestBackupManager_CleanupOlderThan(t *testing.T) {
	m, dir := newTestBackupManager(t)
	if err := os.Remove(filepath.Join(dir, "backups", "old.tar.gz")); err != nil {
		t.Fatal(err)
	}

	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(res.Path, old, old); err != nil {
		t.Fatal(err)
	}

	removed, err := m.Cleanup(0, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("Expected the old archive removed, got %v", removed)
	}
}

func TestBackupManager_Restore(t *testing.T) {
	m, dir := newTestBackupManager(t)
	res, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	writeTree(t, dir, map[string]string{"FLAGS.md": "changed"})
	if err := os.RemoveAll(filepath.Join(dir, "modes")); err != nil {
		t.Fatal(err)
	}

	out, err := m.Restore(filepath.Base(res.Path), RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.Restored != 1 {
		t.Errorf("Expected 1 restored file, got %d", out.Restored)
	}
	assertContent(t, filepath.Join(dir, "FLAGS.md"), "changed")
	assertContent(t, filepath.Join(dir, "modes", "MODE_Brainstorming.md"), "mode")

	if _, err := m.Restore(res.Path, RestoreOptions{Overwrite: true}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	assertContent(t, filepath.Join(dir, "FLAGS.md"), "flags")
}

func TestBackupManager_RestoreRejectsEscapingMembers(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".claude")
	if err := os.MkdirAll(filepath.Join(dir, "backups"), 0755); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "backups", "evil.tar.gz")
	writeArchive(t, archive, map[string]string{
		"../outside.md": "escaped",
		"/etc/evil.md":  "absolute",
		"ok.md":         "fine",
	})

	guard := security.NewGuard(security.WithSystemPrefixes("/etc/"))
	m := NewBackupManager(dir, WithBackupGuard(guard), WithBackupLogger(telemetry.Nop()))

	out, err := m.Restore(archive, RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if out.Restored != 1 || out.Skipped != 2 {
		t.Errorf("Expected 1 restored and 2 skipped, got %+v", out)
	}
	if _, err := os.Stat(filepath.Join(root, "outside.md")); !os.IsNotExist(err) {
		t.Error("Expected escaping member not to be written")
	}
	assertContent(t, filepath.Join(dir, "ok.md"), "fine")
}

func readMembers(t *testing.T, path string) []string {
	t.Helper()
	var names []string
	if err := walkArchive(path, func(hdr *tar.Header, _ io.Reader) error {
		names = append(names, hdr.Name)
		return nil
	}); err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return names
}

func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if string(data) != want {
		t.Errorf("%s: expected %q, got %q", path, want, data)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
