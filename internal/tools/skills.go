package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/primehq/prime/internal/agent"
)

// A skill is an installable tool defined by a skill.json manifest in
// its own directory under the skills root. Executing a skill runs its
// command with the JSON arguments on stdin and returns stdout.
type skillManifest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Command     string          `json:"command"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

var skillNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

const (
	skillManifestFile = "skill.json"
	maxSkillOutput    = 100000
	maxSkillManifest  = 64 << 10
	skillFetchBodyCap = 256 << 10
)

// SkillSet loads skill manifests from a directory and resolves them
// as tools. It satisfies the executor's skills fallback.
type SkillSet struct {
	dir string

	mu     sync.RWMutex
	loaded map[string]*skillManifest
}

// NewSkillSet returns a skill registry rooted at dir. Manifests are
// read lazily and cached; Reload picks up external changes.
func NewSkillSet(dir string) *SkillSet {
	return &SkillSet{dir: dir, loaded: make(map[string]*skillManifest)}
}

// Reload re-reads every manifest under the skills root.
func (s *SkillSet) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	loaded := make(map[string]*skillManifest)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := readSkillManifest(filepath.Join(s.dir, e.Name(), skillManifestFile))
		if err != nil {
			continue
		}
		loaded[m.Name] = m
	}
	s.mu.Lock()
	s.loaded = loaded
	s.mu.Unlock()
	return nil
}

// Resolve returns the named skill as a tool.
func (s *SkillSet) Resolve(name string) (agent.Tool, bool) {
	s.mu.RLock()
	m, ok := s.loaded[name]
	s.mu.RUnlock()
	if !ok {
		// The manifest may have been installed after the last load.
		fresh, err := readSkillManifest(filepath.Join(s.dir, name, skillManifestFile))
		if err != nil {
			return nil, false
		}
		s.mu.Lock()
		s.loaded[fresh.Name] = fresh
		m = fresh
		s.mu.Unlock()
	}
	return &skillTool{manifest: m}, true
}

// List returns the installed manifests sorted by name.
func (s *SkillSet) List() []skillManifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]skillManifest, 0, len(s.loaded))
	for _, m := range s.loaded {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *SkillSet) install(m *skillManifest) error {
	if !skillNameRe.MatchString(m.Name) {
		return fmt.Errorf("invalid skill name %q", m.Name)
	}
	if m.Command == "" {
		return fmt.Errorf("skill %s has no command", m.Name)
	}
	dir := filepath.Join(s.dir, m.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, skillManifestFile), payload, 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	s.loaded[m.Name] = m
	s.mu.Unlock()
	return nil
}

func readSkillManifest(path string) (*skillManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxSkillManifest))
	if err != nil {
		return nil, err
	}
	var m skillManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if !skillNameRe.MatchString(m.Name) || m.Command == "" {
		return nil, fmt.Errorf("invalid manifest %s", path)
	}
	return &m, nil
}

// skillTool adapts a manifest to the tool contract.
type skillTool struct {
	manifest *skillManifest
}

func (t *skillTool) Name() string        { return t.manifest.Name }
func (t *skillTool) Description() string { return t.manifest.Description }

func (t *skillTool) Schema() json.RawMessage {
	if len(t.manifest.Schema) > 0 {
		return t.manifest.Schema
	}
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *skillTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", t.manifest.Command)
	if call.Workspace != "" {
		cmd.Dir = call.Workspace
	}
	cmd.Stdin = bytes.NewReader(call.Args)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("skill %s: %w\n%s", t.manifest.Name, err, truncate(out.String(), maxSkillOutput))
	}
	return truncate(out.String(), maxSkillOutput), nil
}

// SkillListTool lists installed skills.
type SkillListTool struct {
	Skills *SkillSet
}

func (t *SkillListTool) Name() string { return "skill_list" }

func (t *SkillListTool) Description() string {
	return "List installed skills and their descriptions."
}

func (t *SkillListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *SkillListTool) Execute(ctx context.Context, _ *agent.ToolCall) (string, error) {
	if err := t.Skills.Reload(); err != nil {
		return "", fmt.Errorf("load skills: %w", err)
	}
	skills := t.Skills.List()
	if len(skills) == 0 {
		return "no skills installed", nil
	}
	var b strings.Builder
	for _, m := range skills {
		fmt.Fprintf(&b, "%s — %s\n", m.Name, m.Description)
	}
	return strings.TrimSpace(b.String()), nil
}

// SkillInstallTool installs a skill from a manifest URL or local path.
type SkillInstallTool struct {
	Skills *SkillSet

	// HTTPClient is overridable for tests.
	HTTPClient *http.Client
}

func (t *SkillInstallTool) Name() string { return "skill_install" }

func (t *SkillInstallTool) Description() string {
	return "Install a skill from a skill.json manifest given by URL or workspace path."
}

func (t *SkillInstallTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"source": {"type": "string", "description": "HTTP(S) URL or workspace-relative path of the manifest."}
		},
		"required": ["source"]
	}`)
}

func (t *SkillInstallTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	var data []byte
	if strings.HasPrefix(in.Source, "http://") || strings.HasPrefix(in.Source, "https://") {
		var err error
		data, err = t.fetch(ctx, in.Source)
		if err != nil {
			return "", err
		}
	} else {
		path, err := resolvePath(call.Workspace, in.Source)
		if err != nil {
			return "", err
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read manifest: %w", err)
		}
	}
	var m skillManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse manifest: %w", err)
	}
	if err := t.Skills.install(&m); err != nil {
		return "", fmt.Errorf("install skill: %w", err)
	}
	return "installed skill " + m.Name, nil
}

func (t *SkillInstallTool) fetch(ctx context.Context, url string) ([]byte, error) {
	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, skillFetchBodyCap))
}

// SkillCreateTool writes a new skill manifest from inline fields.
type SkillCreateTool struct {
	Skills *SkillSet
}

func (t *SkillCreateTool) Name() string { return "skill_create" }

func (t *SkillCreateTool) Description() string {
	return "Create a new skill from a name, description, and shell command. The command receives JSON arguments on stdin."
}

func (t *SkillCreateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Skill name, lowercase with underscores."},
			"description": {"type": "string", "description": "What the skill does."},
			"command": {"type": "string", "description": "Shell command executed when the skill runs."},
			"schema": {"type": "object", "description": "Optional JSON schema for the skill arguments."}
		},
		"required": ["name", "command"]
	}`)
}

func (t *SkillCreateTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Command     string          `json:"command"`
		Schema      json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	m := &skillManifest{
		Name:        in.Name,
		Description: in.Description,
		Command:     in.Command,
		Schema:      in.Schema,
	}
	if err := t.Skills.install(m); err != nil {
		return "", fmt.Errorf("create skill: %w", err)
	}
	return "created skill " + m.Name, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
