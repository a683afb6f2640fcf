package launcher

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvExecutable overrides executable discovery.
const EnvExecutable = "CODEX_BRIDGE_SERVER_EXE"

// ErrExecutableNotFound is returned when no candidate path exists.
var ErrExecutableNotFound = errors.New("bridge server executable not found (set " + EnvExecutable + " or build codex-relayouter-server)")

// ExecutableName is the platform file name of the bridge server.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "codex-relayouter-server.exe"
	}
	return "codex-relayouter-server"
}

// SearchDirs describes where to look for the executable.
type SearchDirs struct {
	// Override is tried first when non-empty.
	Override string
	// ExeDir is the directory of the running host binary.
	ExeDir string
	// Cwd is the process working directory.
	Cwd string
}

// DefaultSearchDirs reads the override variable, the host executable's
// directory and the working directory.
func DefaultSearchDirs() SearchDirs {
	d := SearchDirs{Override: strings.TrimSpace(os.Getenv(EnvExecutable))}
	if exe, err := os.Executable(); err == nil {
		d.ExeDir = filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		d.Cwd = wd
	}
	return d
}

// Candidates lists executable paths in resolution order:
//  1. the override
//  2. <exeDir>/bridge-server and <exeDir>/../bridge-server
//  3. for the working directory and up to three ancestors: bridge-server/,
//     then the Debug and Release build outputs of codex-relayouter-server
func Candidates(d SearchDirs) []string {
	name := ExecutableName()
	out := make([]string, 0, 16)

	if v := strings.TrimSpace(d.Override); v != "" {
		out = append(out, v)
	}

	if exeDir := strings.TrimSpace(d.ExeDir); exeDir != "" {
		out = append(out, filepath.Join(exeDir, "bridge-server", name))
		out = append(out, filepath.Join(filepath.Dir(exeDir), "bridge-server", name))
	}

	if cwd := strings.TrimSpace(d.Cwd); cwd != "" {
		root := cwd
		for depth := 0; depth <= 3; depth++ {
			out = append(out,
				filepath.Join(root, "bridge-server", name),
				filepath.Join(root, "codex-relayouter-server", "bin", "Debug", "net8.0", name),
				filepath.Join(root, "codex-relayouter-server", "bin", "Release", "net8.0", name),
			)
			root = filepath.Join(root, "..")
		}
	}
	return out
}

// Locate returns the first candidate that is an existing regular file.
func Locate(d SearchDirs) (string, error) {
	for _, p := range Candidates(d) {
		abs := p
		if !filepath.IsAbs(abs) {
			if a, err := filepath.Abs(p); err == nil {
				abs = a
			}
		}
		abs = filepath.Clean(abs)
		if fi, err := os.Stat(abs); err == nil && fi.Mode().IsRegular() {
			return abs, nil
		}
	}
	return "", ErrExecutableNotFound
}
