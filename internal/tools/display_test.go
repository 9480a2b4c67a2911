package tools

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestActivityLine(t *testing.T) {
	cases := []struct {
		name  string
		tool  string
		input string
		want  string
	}{
		{
			name:  "file write shows the path",
			tool:  "write_file",
			input: `{"path":"notes/plan.md","content":"..."}`,
			want:  "✏️ Writing notes/plan.md",
		},
		{
			name:  "command tool shows the command",
			tool:  "run_command",
			input: `{"command":"ls -la"}`,
			want:  "🖥️ Running ls -la",
		},
		{
			name:  "search shows the query",
			tool:  "search_web",
			input: `{"query":"gronx cron syntax"}`,
			want:  "🔎 Searching for gronx cron syntax",
		},
		{
			name:  "camelCase argument spelling is accepted",
			tool:  "sessions_send",
			input: `{"sessionId":"sess-42","text":"hi"}`,
			want:  "💬 Messaging sess-42",
		},
		{
			name:  "second detail key is used when the first is absent",
			tool:  "cron_add",
			input: `{"schedule":"*/5 * * * *","message":"tick"}`,
			want:  "⏰ Scheduling */5 * * * *",
		},
		{
			name:  "no detail keys means verb only",
			tool:  "gateway_status",
			input: `{"verbose":true}`,
			want:  "🩺 Checking gateway",
		},
		{
			name:  "unknown tool falls back to its own name",
			tool:  "weather_report",
			input: `{"city":"Lisbon"}`,
			want:  "🔧 Using weather report",
		},
		{
			name:  "malformed input degrades to verb only",
			tool:  "read_file",
			input: `not json`,
			want:  "📖 Reading",
		},
		{
			name: "multiline detail is flattened",
			tool: "memory_store",
			input: `{"content":"line one\nline two"}`,
			want: "🧠 Remembering line one line two",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ActivityLine(tc.tool, json.RawMessage(tc.input))
			if got != tc.want {
				t.Fatalf("ActivityLine(%s) = %q, want %q", tc.tool, got, tc.want)
			}
		})
	}
}

func TestActivityLineClampsLongDetail(t *testing.T) {
	long := strings.Repeat("é", 300)
	input, _ := json.Marshal(map[string]string{"query": long})

	got := ActivityLine("search_web", input)

	if !utf8.ValidString(got) {
		t.Fatalf("clamped line is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("clamped line should end with an ellipsis: %q", got)
	}
	detail := strings.TrimPrefix(got, "🔎 Searching for ")
	if n := utf8.RuneCountInString(strings.TrimSuffix(detail, "…")); n != maxActivityDetail {
		t.Fatalf("detail kept %d runes, want %d", n, maxActivityDetail)
	}
}

func TestActivityLineIgnoresCompositeValues(t *testing.T) {
	// Objects and arrays never read well in a one-liner.
	got := ActivityLine("read_file", json.RawMessage(`{"path":["a.txt","b.txt"]}`))
	if got != "📖 Reading" {
		t.Fatalf("ActivityLine = %q, want bare verb", got)
	}
}

func TestActivityLineNumericDetail(t *testing.T) {
	got := ActivityLine("browser_scroll", json.RawMessage(`{"direction":"down","amount":400}`))
	if got != "🖱️ Scrolling down" {
		t.Fatalf("ActivityLine = %q", got)
	}
}

func TestActivitySpecsCoverBuiltinTools(t *testing.T) {
	// Every tool the built-in sets register should narrate with its
	// own entry rather than the generic fallback.
	for _, name := range []string{
		"read_file", "write_file", "edit_file", "list_files", "run_command",
		"web_fetch", "search_web",
		"memory_search", "memory_get", "memory_store", "memory_forget",
		"sessions_list", "sessions_send", "sessions_spawn",
		"cron_add", "cron_remove", "cron_list",
		"webhook_register", "webhook_list", "gateway_status",
		"browser_open", "browser_navigate", "browser_snapshot", "browser_click",
		"browser_type", "browser_fill", "browser_scroll", "browser_extract", "browser_close",
		"skill_list", "skill_install", "skill_create",
	} {
		if _, ok := activitySpecs[name]; !ok {
			t.Errorf("no activity spec for %s", name)
		}
	}
}
