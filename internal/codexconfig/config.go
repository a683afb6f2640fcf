// Package codexconfig reads the defaults the Codex CLI keeps in config.toml.
// Only root-level keys are honored; values inside tables (profiles, model
// providers, MCP servers) belong to other features.
package codexconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	keyModel          = "model"
	keyModelEffort    = "model_reasoning_effort"
	keyApprovalPolicy = "approval_policy"
	keySandboxMode    = "sandbox_mode"
)

// Snapshot holds the root-level defaults. Empty fields are unset.
type Snapshot struct {
	Model                string `json:"model,omitempty"`
	ModelReasoningEffort string `json:"model_reasoning_effort,omitempty"`
	ApprovalPolicy       string `json:"approval_policy,omitempty"`
	SandboxMode          string `json:"sandbox_mode,omitempty"`
}

func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// DefaultPath returns $CODEX_HOME/config.toml, or ~/.codex/config.toml.
func DefaultPath() string {
	if home := strings.TrimSpace(os.Getenv("CODEX_HOME")); home != "" {
		return filepath.Join(home, "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".codex", "config.toml")
}

// Read parses the file at path. A missing or invalid file yields an empty
// snapshot.
func Read(path string) Snapshot {
	p := strings.TrimSpace(path)
	if p == "" {
		return Snapshot{}
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return Snapshot{}
	}
	return Parse(b)
}

// Parse extracts the root-level keys from TOML content.
func Parse(b []byte) Snapshot {
	var root map[string]any
	if err := toml.Unmarshal(b, &root); err != nil {
		return Snapshot{}
	}
	return Snapshot{
		Model:                rootString(root, keyModel),
		ModelReasoningEffort: rootString(root, keyModelEffort),
		ApprovalPolicy:       rootString(root, keyApprovalPolicy),
		SandboxMode:          rootString(root, keySandboxMode),
	}
}

func rootString(root map[string]any, key string) string {
	v, ok := root[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
