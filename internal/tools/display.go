package tools

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxActivityDetail caps how much of an argument value makes it into
// an activity line.
const maxActivityDetail = 96

// activitySpec describes how one tool's invocation is narrated: an
// emoji, a present-tense verb, and which arguments may carry the
// interesting detail, in preference order.
type activitySpec struct {
	Emoji string
	Verb  string
	Keys  []string
}

var activitySpecs = map[string]activitySpec{
	"read_file":   {Emoji: "📖", Verb: "Reading", Keys: []string{"path"}},
	"write_file":  {Emoji: "✏️", Verb: "Writing", Keys: []string{"path"}},
	"edit_file":   {Emoji: "✏️", Verb: "Editing", Keys: []string{"path"}},
	"list_files":  {Emoji: "📂", Verb: "Listing", Keys: []string{"path"}},
	"run_command": {Emoji: "🖥️", Verb: "Running", Keys: []string{"command"}},

	"web_fetch":  {Emoji: "🌐", Verb: "Fetching", Keys: []string{"url"}},
	"search_web": {Emoji: "🔎", Verb: "Searching for", Keys: []string{"query"}},

	"memory_search": {Emoji: "🧠", Verb: "Recalling", Keys: []string{"query"}},
	"memory_get":    {Emoji: "🧠", Verb: "Recalling", Keys: []string{"id"}},
	"memory_store":  {Emoji: "🧠", Verb: "Remembering", Keys: []string{"content"}},
	"memory_forget": {Emoji: "🧠", Verb: "Forgetting", Keys: []string{"id"}},

	"sessions_list":  {Emoji: "💬", Verb: "Listing sessions"},
	"sessions_send":  {Emoji: "💬", Verb: "Messaging", Keys: []string{"session_id"}},
	"sessions_spawn": {Emoji: "💬", Verb: "Spawning session on", Keys: []string{"channel"}},

	"cron_add":    {Emoji: "⏰", Verb: "Scheduling", Keys: []string{"name", "schedule"}},
	"cron_remove": {Emoji: "⏰", Verb: "Unscheduling", Keys: []string{"id"}},
	"cron_list":   {Emoji: "⏰", Verb: "Listing schedules"},

	"webhook_register": {Emoji: "🪝", Verb: "Registering webhook", Keys: []string{"name", "path"}},
	"webhook_list":     {Emoji: "🪝", Verb: "Listing webhooks"},

	"gateway_status": {Emoji: "🩺", Verb: "Checking gateway"},

	"browser_open":     {Emoji: "🌍", Verb: "Opening browser at", Keys: []string{"url"}},
	"browser_navigate": {Emoji: "🌍", Verb: "Navigating to", Keys: []string{"url"}},
	"browser_snapshot": {Emoji: "📸", Verb: "Capturing page"},
	"browser_click":    {Emoji: "🖱️", Verb: "Clicking", Keys: []string{"selector"}},
	"browser_type":     {Emoji: "⌨️", Verb: "Typing into", Keys: []string{"selector"}},
	"browser_fill":     {Emoji: "⌨️", Verb: "Filling", Keys: []string{"selector"}},
	"browser_scroll":   {Emoji: "🖱️", Verb: "Scrolling", Keys: []string{"direction"}},
	"browser_extract":  {Emoji: "🌍", Verb: "Extracting", Keys: []string{"selector"}},
	"browser_close":    {Emoji: "🌍", Verb: "Closing browser"},

	"skill_list":    {Emoji: "🧩", Verb: "Listing skills"},
	"skill_install": {Emoji: "🧩", Verb: "Installing skill from", Keys: []string{"source"}},
	"skill_create":  {Emoji: "🧩", Verb: "Creating skill", Keys: []string{"name"}},
}

// ActivityLine renders a one-line progress notice for a tool call, for
// example "✏️ Writing notes/plan.md". Tools outside the built-in set,
// skill-manifest commands included, fall back to the tool's own name.
func ActivityLine(name string, input json.RawMessage) string {
	spec, ok := activitySpecs[name]
	if !ok {
		spec = activitySpec{Emoji: "🔧", Verb: "Using " + strings.ReplaceAll(name, "_", " ")}
	}
	line := spec.Emoji + " " + spec.Verb
	if detail := activityDetail(spec.Keys, input); detail != "" {
		line += " " + detail
	}
	return line
}

// activityDetail extracts the first configured argument carrying a
// usable scalar. Keys are tried snake_case first, then the camelCase
// spelling some models emit.
func activityDetail(keys []string, input json.RawMessage) string {
	if len(keys) == 0 || len(input) == 0 {
		return ""
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(input, &args); err != nil {
		return ""
	}
	for _, key := range keys {
		raw, ok := args[key]
		if !ok {
			raw, ok = args[camelKey(key)]
		}
		if !ok {
			continue
		}
		if v := scalarString(raw); v != "" {
			return clampDetail(v)
		}
	}
	return ""
}

// scalarString renders a JSON scalar for display. Objects and arrays
// stay hidden; they never read well in a one-liner.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

// clampDetail flattens whitespace and trims the value to
// maxActivityDetail runes.
func clampDetail(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	if utf8.RuneCountInString(v) <= maxActivityDetail {
		return v
	}
	runes := []rune(v)
	return string(runes[:maxActivityDetail]) + "…"
}

// camelKey converts a snake_case argument name to camelCase.
func camelKey(key string) string {
	parts := strings.Split(key, "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			b.WriteString(part)
			continue
		}
		r, size := utf8.DecodeRuneInString(part)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(part[size:])
	}
	return b.String()
}
