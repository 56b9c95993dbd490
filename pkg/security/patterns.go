package security

import "regexp"

// Length ceilings applied before any pattern matching.
const (
	MaxPathLength     = 4096
	MaxFilenameLength = 255
)

// ProductDirName is the installation directory name that gets the
// home-directory special case in ValidateInstallTarget.
const ProductDirName = ".claude"

// Traversal indicators, matched against the raw lowercased input.
var traversalPatterns = compileAll(
	`\.\./`,
	`\.\.\\`,
	`\.\.\.`,
	`//+`,
)

// DefaultUnixSystemPrefixes are anchored at the start of a normalized path.
var DefaultUnixSystemPrefixes = []string{
	"/etc/",
	"/bin/",
	"/sbin/",
	"/usr/bin/",
	"/usr/sbin/",
	"/var/",
	"/tmp/",
	"/dev/",
	"/proc/",
	"/sys/",
}

// Windows system locations; inputs are lowercased before matching.
var windowsSystemPatterns = compileAll(
	`^c:[/\\]windows[/\\]`,
	`^c:[/\\]program files[/\\]`,
	`^c:[/\\]program files \(x86\)[/\\]`,
)

// Dangerous names, matched against the final path segment only.
var dangerousFilenamePatterns = compileAll(
	`\.exe$`,
	`\.bat$`,
	`\.cmd$`,
	`\.scr$`,
	`\.dll$`,
	`\.so$`,
	`\.dylib$`,
	`passwd`,
	`shadow`,
	`hosts`,
	`\.env`,
	`\.secret`,
)

// reservedNames are Windows device names that cannot be used as a file
// name with or without an extension.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// AllowedExtensions lists the artifact types a unit may install. Files
// without an extension are allowed too.
var AllowedExtensions = map[string]bool{
	".md": true, ".json": true, ".py": true, ".js": true, ".ts": true,
	".jsx": true, ".tsx": true, ".txt": true, ".yml": true, ".yaml": true,
	".toml": true, ".cfg": true, ".conf": true, ".sh": true, ".ps1": true,
	".html": true, ".css": true, ".svg": true, ".png": true, ".jpg": true,
	".gif": true,
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func prefixPatterns(prefixes []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, regexp.MustCompile("^"+regexp.QuoteMeta(p)))
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, s string) (*regexp.Regexp, bool) {
	for _, p := range patterns {
		if p.MatchString(s) {
			return p, true
		}
	}
	return nil, false
}
