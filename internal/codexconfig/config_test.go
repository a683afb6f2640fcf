package codexconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRootKeysOnly(t *testing.T) {
	t.Parallel()

	content := `
model = "gpt-5.1"
model_reasoning_effort = "high" # inline comment
approval_policy = 'never'
sandbox_mode = "danger-full-access"

[profiles.fast]
model = "gpt-mini"
sandbox_mode = "read-only"
`
	got := Parse([]byte(content))
	want := Snapshot{
		Model:                "gpt-5.1",
		ModelReasoningEffort: "high",
		ApprovalPolicy:       "never",
		SandboxMode:          "danger-full-access",
	}
	if got != want {
		t.Fatalf("Parse() = %+v, want %+v", got, want)
	}
}

func TestParseIgnoresNonStringsAndTables(t *testing.T) {
	t.Parallel()

	content := `
model = 5

[model_reasoning_effort]
value = "high"
`
	if got := Parse([]byte(content)); !got.IsZero() {
		t.Fatalf("Parse() = %+v, want zero", got)
	}
}

func TestReadMissingOrInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := Read(filepath.Join(dir, "missing.toml")); !got.IsZero() {
		t.Fatalf("Read(missing) = %+v, want zero", got)
	}
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("model = \n = ="), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := Read(bad); !got.IsZero() {
		t.Fatalf("Read(bad) = %+v, want zero", got)
	}
}

func TestDefaultPathHonorsCodexHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CODEX_HOME", dir)
	if got, want := DefaultPath(), filepath.Join(dir, "config.toml"); got != want {
		t.Fatalf("DefaultPath() = %q, want %q", got, want)
	}
}
