package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superclaude-org/scinstall/pkg/telemetry"
)

// testGuard allows temp directories, which live under /tmp or /var.
func testGuard(opts ...Option) *Guard {
	base := []Option{WithSystemPrefixes("/etc/", "/bin/", "/sbin/", "/usr/bin/", "/usr/sbin/", "/dev/", "/proc/", "/sys/")}
	return NewGuard(append(base, opts...)...)
}

func TestValidate_RejectsKnownBadInputs(t *testing.T) {
	g := NewGuard(WithPlatform("linux"))

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"relative traversal", "../../etc/passwd", "traversal"},
		{"embedded traversal", "/home/user/.claude/../../../etc/shadow", "traversal"},
		{"triple dot", "/home/user/.../x", "traversal"},
		{"doubled separator", "/home/user//x.md", "traversal"},
		{"etc file", "/etc/anything", "system directory"},
		{"etc itself", "/etc", "system directory"},
		{"usr bin", "/usr/bin/python3", "system directory"},
		{"proc", "/proc/self/environ", "system directory"},
		{"windows dir", `C:\Windows\System32\drivers`, "system directory"},
		{"windows program files", `c:/Program Files/App/x.md`, "system directory"},
		{"executable", "/home/user/project/setup.exe", "dangerous filename"},
		{"dotenv", "/home/user/project/.env", "dangerous filename"},
		{"named env file", "/home/user/project/production.env", "dangerous filename"},
		{"hosts variant", "/home/user/project/known.hosts", "dangerous filename"},
		{"shadow copy", "/home/user/project/shadow.md", "dangerous filename"},
		{"null byte", "/home/user/project/a\x00b.md", "null byte"},
		{"empty", "", "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := g.Validate(tt.path, "")
			assert.False(t, ok)
			assert.Contains(t, strings.ToLower(reason), tt.reason)
		})
	}
}

func TestValidate_AcceptsSubstringOfSystemName(t *testing.T) {
	g := NewGuard(WithPlatform("linux"))

	for _, p := range []string{
		"/home/user/dev/project",
		"/home/user/etc/notes.md",
		"/home/user/projects/binary-search/README.md",
	} {
		ok, reason := g.Validate(p, "")
		assert.True(t, ok, "expected %s to be accepted, got %q", p, reason)
	}
}

func TestValidate_LengthLimits(t *testing.T) {
	g := NewGuard()

	long := "/home/" + strings.Repeat("a/", MaxPathLength/2+1)
	ok, reason := g.Validate(long, "")
	assert.False(t, ok)
	assert.Contains(t, reason, "Path too long")

	longName := "/home/user/" + strings.Repeat("n", MaxFilenameLength+1) + ".md"
	ok, reason = g.Validate(longName, "")
	assert.False(t, ok)
	assert.Contains(t, reason, "Filename too long")
}

func TestValidate_LengthCheckedBeforeTraversal(t *testing.T) {
	g := NewGuard()
	p := "../" + strings.Repeat("x", MaxFilenameLength+1)

	ok, reason := g.Validate(p, "")
	assert.False(t, ok)
	assert.Contains(t, reason, "Filename too long")
}

func TestValidate_Containment(t *testing.T) {
	g := testGuard()
	base := t.TempDir()
	other := t.TempDir()

	ok, reason := g.Validate(filepath.Join(base, "sub", "file.md"), base)
	assert.True(t, ok, reason)

	ok, reason = g.Validate(base, base)
	assert.True(t, ok, reason)

	ok, reason = g.Validate(filepath.Join(other, "file.md"), base)
	assert.False(t, ok)
	assert.Contains(t, reason, "outside allowed directory")
}

func TestValidate_ContainmentFollowsSymlinks(t *testing.T) {
	g := testGuard()
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "escape")
	require.NoError(t, os.Symlink(outside, link))

	ok, reason := g.Validate(filepath.Join(link, "file.md"), base)
	assert.False(t, ok)
	assert.Contains(t, reason, "outside allowed directory")
}

func TestValidate_ReservedNamesOnWindowsOnly(t *testing.T) {
	path := "/home/user/project/CON.md"

	ok, reason := NewGuard(WithPlatform("windows")).Validate(path, "")
	assert.False(t, ok)
	assert.Contains(t, reason, "Reserved device name")

	ok, _ = NewGuard(WithPlatform("linux")).Validate(path, "")
	assert.True(t, ok)
}

func TestValidate_AuditTrail(t *testing.T) {
	var got []Decision
	sink := AuditSinkFunc(func(d Decision) error {
		got = append(got, d)
		return nil
	})
	failing := AuditSinkFunc(func(Decision) error {
		return errors.New("disk full")
	})

	g := NewGuard(WithAuditSink(failing), WithAuditSink(sink))

	ok, _ := g.Validate("/etc/passwd", "")
	assert.False(t, ok, "a failing sink must not change the decision")

	ok, _ = g.Validate("/home/user/notes.md", "")
	assert.True(t, ok)

	require.Len(t, got, 1, "only the DENY is recorded by Validate")
	assert.Equal(t, ActionDeny, got[0].Action)
	assert.Equal(t, "/etc/passwd", got[0].Path)
	assert.Equal(t, os.Getpid(), got[0].PID)
}

func TestFileAuditSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "security.log")
	g := NewGuard(WithAuditSink(NewFileAuditSink(path)))

	g.Validate("../x", "")
	g.Validate("/etc/hosts", "")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"action":"DENY"`)
}

func TestValidateInstallTarget_HomeProductDir(t *testing.T) {
	home := t.TempDir()
	target := filepath.Join(home, ProductDirName)

	// Default denylist: the temp home would otherwise be rejected.
	g := NewGuard(WithHomeDir(func() (string, error) { return home, nil }), WithPlatform("linux"))

	ok, reason := g.ValidateInstallTarget(target)
	assert.True(t, ok, reason)

	ok, _ = g.Validate(filepath.Join(home, "elsewhere"), "")
	if strings.HasPrefix(home, "/tmp/") || strings.HasPrefix(home, "/var/") {
		assert.False(t, ok, "the exemption must not apply to other directories")
	}
}

func TestValidateInstallTarget_ProductDirOutsideHome(t *testing.T) {
	home := t.TempDir()
	elsewhere := t.TempDir()

	g := testGuard(WithHomeDir(func() (string, error) { return home, nil }))

	ok, reason := g.ValidateInstallTarget(filepath.Join(elsewhere, ProductDirName))
	assert.False(t, ok)
	assert.Contains(t, reason, "must be in your home directory")
}

func TestValidateInstallTarget_UnknownHomeFallsBackToValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), ProductDirName)
	rec := telemetry.NewRecorder()
	noHome := WithHomeDir(func() (string, error) { return "", errors.New("no home") })

	ok, reason := testGuard(noHome, WithLogger(rec)).ValidateInstallTarget(target)
	assert.True(t, ok, reason)
	assert.True(t, rec.Contains("warn", "could not resolve home directory"))

	ok, _ = NewGuard(noHome).ValidateInstallTarget("/etc/" + ProductDirName)
	assert.False(t, ok)
}

func TestValidateInstallTarget_TraversalStillChecked(t *testing.T) {
	home := t.TempDir()
	g := testGuard(WithHomeDir(func() (string, error) { return home, nil }))

	ok, reason := g.ValidateInstallTarget(home + "/x/../" + ProductDirName)
	assert.False(t, ok)
	assert.Contains(t, reason, "traversal")
}

func TestValidateInstallTarget_WindowsRejectsLink(t *testing.T) {
	home := t.TempDir()
	link := filepath.Join(home, "nested", ProductDirName)
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0755))
	require.NoError(t, os.Symlink(filepath.Join(home, "nested", "target", ProductDirName), link))
	require.NoError(t, os.MkdirAll(filepath.Join(home, "nested", "target", ProductDirName), 0755))

	homeFn := WithHomeDir(func() (string, error) { return home, nil })

	ok, reason := testGuard(homeFn, WithPlatform("windows")).ValidateInstallTarget(link)
	assert.False(t, ok)
	assert.Contains(t, reason, "junction or symbolic link")

	ok, reason = testGuard(homeFn, WithPlatform("linux")).ValidateInstallTarget(link)
	assert.True(t, ok, reason)
}

func TestValidateInstallTarget_GenericDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "framework")
	var actions []Action
	sink := AuditSinkFunc(func(d Decision) error {
		actions = append(actions, d.Action)
		return nil
	})

	ok, reason := testGuard(WithAuditSink(sink)).ValidateInstallTarget(dir)
	assert.True(t, ok, reason)
	assert.Equal(t, []Action{ActionAllow}, actions)

	ok, _ = NewGuard().ValidateInstallTarget("/etc/framework")
	assert.False(t, ok)
}

func TestValidateComponentFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	g := testGuard()

	ok, errs := g.ValidateComponentFiles([]FilePair{
		{Source: filepath.Join(src, "CORE.md"), Target: filepath.Join(dst, "CORE.md")},
		{Source: filepath.Join(src, "LICENSE"), Target: filepath.Join(dst, "LICENSE")},
	}, src, dst)
	assert.True(t, ok, errs)

	ok, errs = g.ValidateComponentFiles([]FilePair{
		{Source: filepath.Join(src, "tool.exe"), Target: filepath.Join(dst, "tool.exe")},
		{Source: filepath.Join(src, "notes.md"), Target: filepath.Join(t.TempDir(), "notes.md")},
		{Source: filepath.Join(src, "data.bin"), Target: filepath.Join(dst, "data.bin")},
	}, src, dst)
	assert.False(t, ok)
	assert.Len(t, errs, 5)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c.md", SanitizeFilename(`a<b>c.md`))
	assert.Equal(t, "dir_file", SanitizeFilename("dir/file"))
	assert.Equal(t, "unnamed", SanitizeFilename(" .. "))
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), MaxFilenameLength)
}

func TestCheckPermissions_MissingPathUsesParent(t *testing.T) {
	dir := t.TempDir()
	ok, reason := CheckPermissions(filepath.Join(dir, "not", "yet", "created"), true, true)
	assert.True(t, ok, reason)
}
