package artifacts

import (
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superclaude-org/scinstall/pkg/security"
	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

func testGuard() *security.Guard {
	return security.NewGuard(security.WithSystemPrefixes("/etc/", "/bin/", "/usr/bin/", "/proc/", "/sys/", "/dev/"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// snapshot maps every entry under root to its content hash ("dir" for
// directories).
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			out[rel] = "dir"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = fmt.Sprintf("%x", sha256.Sum256(data))
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCopyFile_CreatesParents(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src", "CORE.md")
	dst := filepath.Join(root, "dst", "nested", "CORE.md")
	writeFile(t, src, "# core")

	s := New(testGuard(), telemetry.Nop(), false)
	require.True(t, s.CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "# core", string(data))
	assert.Equal(t, 1, s.Summary().FilesCopied)
	assert.Equal(t, 2, s.Summary().DirectoriesCreated)
}

func TestCopyFile_MissingSource(t *testing.T) {
	root := t.TempDir()
	rec := telemetry.NewRecorder()
	s := New(testGuard(), rec, false)

	assert.False(t, s.CopyFile(filepath.Join(root, "missing.md"), filepath.Join(root, "out.md")))
	assert.True(t, rec.Contains("error", "source file not found"))
}

func TestCopyFile_RejectedByGuard(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "CORE.md")
	writeFile(t, src, "x")

	s := New(testGuard(), telemetry.Nop(), false)
	assert.False(t, s.CopyFile(src, "/etc/CORE.md"))
	assert.False(t, s.CopyFile(src, root+"/../x.md"))
}

func TestCopyDirectory_IgnorePatterns(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.md"), "a")
	writeFile(t, filepath.Join(src, "sub", "b.md"), "b")
	writeFile(t, filepath.Join(src, "sub", "c.pyc"), "c")
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(src, "__pycache__", "x.py"), "x")

	dst := filepath.Join(root, "dst")
	s := New(testGuard(), telemetry.Nop(), false)
	require.True(t, s.CopyDirectory(src, dst, nil))

	assert.FileExists(t, filepath.Join(dst, "a.md"))
	assert.FileExists(t, filepath.Join(dst, "sub", "b.md"))
	assert.NoFileExists(t, filepath.Join(dst, "sub", "c.pyc"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
	assert.NoDirExists(t, filepath.Join(dst, "__pycache__"))

	dst2 := filepath.Join(root, "dst2")
	require.True(t, s.CopyDirectory(src, dst2, []string{"sub/*.md"}))
	assert.NoFileExists(t, filepath.Join(dst2, "sub", "b.md"))
	assert.FileExists(t, filepath.Join(dst2, "sub", "c.pyc"))
}

func TestDryRun_LeavesFilesystemUnchanged(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "a.md"), "a")
	writeFile(t, filepath.Join(src, "sub", "b.md"), "b")
	existing := filepath.Join(root, "existing.md")
	writeFile(t, existing, "keep me")
	emptyDir := filepath.Join(root, "empty")
	require.NoError(t, os.Mkdir(emptyDir, 0755))

	before := snapshot(t, root)

	rec := telemetry.NewRecorder()
	s := New(testGuard(), rec, true)
	assert.True(t, s.CopyFile(filepath.Join(src, "a.md"), filepath.Join(root, "out", "a.md")))
	assert.True(t, s.CopyDirectory(src, filepath.Join(root, "copy"), nil))
	assert.True(t, s.EnsureDirectory(filepath.Join(root, "new", "dir")))
	assert.True(t, s.RemoveFile(existing))
	assert.True(t, s.RemoveDirectory(src, true))
	assert.True(t, s.RemoveDirectory(emptyDir, false))
	_, ok := s.BackupFile(existing, "")
	assert.True(t, ok)

	assert.Equal(t, before, snapshot(t, root))
	assert.True(t, rec.Contains("info", "[dry-run]"))
	assert.Equal(t, 0, s.Summary().FilesCopied)
}

func TestRemove_Idempotent(t *testing.T) {
	root := t.TempDir()
	s := New(testGuard(), telemetry.Nop(), false)

	file := filepath.Join(root, "x.md")
	writeFile(t, file, "x")
	assert.True(t, s.RemoveFile(file))
	assert.True(t, s.RemoveFile(file), "removing an absent file succeeds")
	assert.NoFileExists(t, file)

	dir := filepath.Join(root, "d")
	writeFile(t, filepath.Join(dir, "f.md"), "f")
	assert.False(t, s.RemoveDirectory(dir, false), "non-empty directory without recursive")
	assert.True(t, s.RemoveDirectory(dir, true))
	assert.True(t, s.RemoveDirectory(dir, true), "removing an absent directory succeeds")

	assert.False(t, s.RemoveFile(root), "a directory is not a file")
}

func TestHashAndBackup(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "CORE.md")
	writeFile(t, file, "hello")

	s := New(testGuard(), telemetry.Nop(), false)
	sum, err := s.HashFile(file)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte("hello"))), sum)

	backup, ok := s.BackupFile(file, "")
	require.True(t, ok)
	assert.Equal(t, file+".backup", backup)

	backupSum, err := s.HashFile(backup)
	require.NoError(t, err)
	assert.Equal(t, sum, backupSum)

	_, ok = s.BackupFile(filepath.Join(root, "missing.md"), "")
	assert.False(t, ok)
}

func TestListFilesAndRollback(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "b.md"), "b")
	writeFile(t, filepath.Join(src, "a.md"), "a")
	writeFile(t, filepath.Join(src, "notes.txt"), "n")
	writeFile(t, filepath.Join(src, "sub", "c.md"), "c")

	s := New(testGuard(), telemetry.Nop(), false)
	assert.Equal(t, []string{filepath.Join(src, "a.md"), filepath.Join(src, "b.md")}, s.ListFiles(src, "*.md", false))
	assert.Len(t, s.ListFiles(src, "*.md", true), 3)

	dst := filepath.Join(root, "dst")
	require.True(t, s.CopyDirectory(src, dst, nil))
	s.Rollback()
	assert.NoDirExists(t, dst)
}
