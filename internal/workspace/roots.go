package workspace

import (
	"path/filepath"
	"strings"
	"sync"
)

// NormalizeRoot returns the canonical absolute form of path with symlinks
// resolved. When resolution fails the cleaned absolute input is returned.
func NormalizeRoot(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Roots is the ordered set of workspace folders known to the host plus the
// subset the UI marked active.
type Roots struct {
	mu     sync.Mutex
	roots  []string
	active []string
}

func NewRoots(roots ...string) *Roots {
	r := &Roots{}
	for _, root := range roots {
		r.Add(root)
	}
	return r
}

// Add normalizes and appends root if it is new, returning the normalized form.
func (r *Roots) Add(root string) string {
	if r == nil {
		return ""
	}
	n := NormalizeRoot(root)
	if n == "" {
		return ""
	}
	r.mu.Lock()
	r.roots = pushUnique(r.roots, n)
	r.mu.Unlock()
	return n
}

// SetActive replaces the active roots. Unknown roots are added as well.
func (r *Roots) SetActive(roots ...string) {
	if r == nil {
		return
	}
	var active []string
	for _, root := range roots {
		if n := NormalizeRoot(root); n != "" {
			active = pushUnique(active, n)
		}
	}
	r.mu.Lock()
	for _, n := range active {
		r.roots = pushUnique(r.roots, n)
	}
	r.active = active
	r.mu.Unlock()
}

func (r *Roots) List() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roots...)
}

func (r *Roots) Active() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.active...)
}

// Preferred is the working directory for new turns: the first active root,
// else the first root, else "/".
func (r *Roots) Preferred() string {
	if r == nil {
		return "/"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) > 0 {
		return r.active[0]
	}
	if len(r.roots) > 0 {
		return r.roots[0]
	}
	return "/"
}

func pushUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
