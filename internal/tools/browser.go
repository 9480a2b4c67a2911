package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/primehq/prime/internal/agent"
)

const browserActionTimeout = 20 * time.Second

// Browser holds a single headless Chrome session shared by the
// browser_* tools. The session is created lazily by browser_open and
// torn down by browser_close or Shutdown.
type Browser struct {
	mu          sync.Mutex
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
}

// NewBrowser returns an unopened browser session.
func NewBrowser() *Browser {
	return &Browser{}
}

func (b *Browser) open(debugURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCtx != nil {
		return nil
	}
	if debugURL != "" {
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
		b.taskCtx, b.taskCancel = chromedp.NewContext(allocCtx)
		b.allocCancel = allocCancel
		return nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	b.taskCtx, b.taskCancel = chromedp.NewContext(allocCtx)
	b.allocCancel = allocCancel
	return nil
}

func (b *Browser) session() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCtx == nil {
		return nil, fmt.Errorf("no browser session, call browser_open first")
	}
	return b.taskCtx, nil
}

func (b *Browser) run(actions ...chromedp.Action) error {
	taskCtx, err := b.session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(taskCtx, browserActionTimeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Shutdown tears down the Chrome session if one is open.
func (b *Browser) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taskCancel != nil {
		b.taskCancel()
		b.taskCancel = nil
		b.taskCtx = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
}

// BrowserTools returns the full browser_* toolset backed by one
// shared session.
func BrowserTools(b *Browser) []agent.Tool {
	return []agent.Tool{
		&BrowserOpenTool{Browser: b},
		&BrowserNavigateTool{Browser: b},
		&BrowserSnapshotTool{Browser: b},
		&BrowserClickTool{Browser: b},
		&BrowserTypeTool{Browser: b},
		&BrowserFillTool{Browser: b},
		&BrowserScrollTool{Browser: b},
		&BrowserExtractTool{Browser: b},
		&BrowserCloseTool{Browser: b},
	}
}

// BrowserOpenTool starts a browser session, optionally navigating to a URL.
type BrowserOpenTool struct {
	Browser *Browser
}

func (t *BrowserOpenTool) Name() string { return "browser_open" }

func (t *BrowserOpenTool) Description() string {
	return "Open a headless browser session. Optionally navigate to a URL, or attach to a running Chrome via debug_url."
}

func (t *BrowserOpenTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to open after the session starts."},
			"debug_url": {"type": "string", "description": "DevTools URL of a running Chrome, e.g. http://localhost:9222."}
		}
	}`)
}

func (t *BrowserOpenTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		URL      string `json:"url"`
		DebugURL string `json:"debug_url"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if err := t.Browser.open(in.DebugURL); err != nil {
		return "", err
	}
	if in.URL != "" {
		if err := t.Browser.run(chromedp.Navigate(in.URL)); err != nil {
			return "", fmt.Errorf("navigate: %w", err)
		}
		return "browser opened at " + in.URL, nil
	}
	return "browser session opened", nil
}

// BrowserNavigateTool loads a URL in the open session.
type BrowserNavigateTool struct {
	Browser *Browser
}

func (t *BrowserNavigateTool) Name() string { return "browser_navigate" }

func (t *BrowserNavigateTool) Description() string {
	return "Navigate the open browser session to a URL."
}

func (t *BrowserNavigateTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to navigate to."}
		},
		"required": ["url"]
	}`)
}

func (t *BrowserNavigateTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if err := t.Browser.run(chromedp.Navigate(in.URL)); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	return "navigated to " + in.URL, nil
}

// BrowserSnapshotTool captures a screenshot. When a workspace is
// set the PNG is written there and the path returned, otherwise the
// image comes back base64-encoded.
type BrowserSnapshotTool struct {
	Browser *Browser
}

func (t *BrowserSnapshotTool) Name() string { return "browser_snapshot" }

func (t *BrowserSnapshotTool) Description() string {
	return "Capture a screenshot of the current page."
}

func (t *BrowserSnapshotTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"full_page": {"type": "boolean", "description": "Capture the full page instead of the viewport."}
		}
	}`)
}

func (t *BrowserSnapshotTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		FullPage bool `json:"full_page"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if in.FullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	}
	if err := t.Browser.run(action); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	if call.Workspace != "" {
		name := fmt.Sprintf("snapshot_%s.png", time.Now().Format("20060102_150405"))
		path := filepath.Join(call.Workspace, name)
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return "", fmt.Errorf("write screenshot: %w", err)
		}
		return fmt.Sprintf("screenshot saved to %s (%d bytes)", name, len(buf)), nil
	}
	return fmt.Sprintf("screenshot (%d bytes, base64): %s", len(buf), base64.StdEncoding.EncodeToString(buf)), nil
}

// BrowserClickTool clicks an element by CSS selector.
type BrowserClickTool struct {
	Browser *Browser
}

func (t *BrowserClickTool) Name() string { return "browser_click" }

func (t *BrowserClickTool) Description() string {
	return "Click the element matching a CSS selector."
}

func (t *BrowserClickTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector of the element to click."}
		},
		"required": ["selector"]
	}`)
}

func (t *BrowserClickTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	err := t.Browser.run(
		chromedp.WaitVisible(in.Selector, chromedp.ByQuery),
		chromedp.Click(in.Selector, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("click %s: %w", in.Selector, err)
	}
	return "clicked " + in.Selector, nil
}

// BrowserTypeTool sends keystrokes to an element without clearing it.
type BrowserTypeTool struct {
	Browser *Browser
}

func (t *BrowserTypeTool) Name() string { return "browser_type" }

func (t *BrowserTypeTool) Description() string {
	return "Type text into the element matching a CSS selector, appending to existing content."
}

func (t *BrowserTypeTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector of the input element."},
			"text": {"type": "string", "description": "Text to type."}
		},
		"required": ["selector", "text"]
	}`)
}

func (t *BrowserTypeTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	err := t.Browser.run(
		chromedp.WaitVisible(in.Selector, chromedp.ByQuery),
		chromedp.SendKeys(in.Selector, in.Text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("type into %s: %w", in.Selector, err)
	}
	return "typed into " + in.Selector, nil
}

// BrowserFillTool replaces an input's value.
type BrowserFillTool struct {
	Browser *Browser
}

func (t *BrowserFillTool) Name() string { return "browser_fill" }

func (t *BrowserFillTool) Description() string {
	return "Replace the value of the element matching a CSS selector."
}

func (t *BrowserFillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector of the input element."},
			"text": {"type": "string", "description": "New value."}
		},
		"required": ["selector", "text"]
	}`)
}

func (t *BrowserFillTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	err := t.Browser.run(
		chromedp.WaitVisible(in.Selector, chromedp.ByQuery),
		chromedp.SetValue(in.Selector, in.Text, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("fill %s: %w", in.Selector, err)
	}
	return "filled " + in.Selector, nil
}

// BrowserScrollTool scrolls the page.
type BrowserScrollTool struct {
	Browser *Browser
}

func (t *BrowserScrollTool) Name() string { return "browser_scroll" }

func (t *BrowserScrollTool) Description() string {
	return "Scroll the page up or down by a pixel amount."
}

func (t *BrowserScrollTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"direction": {"type": "string", "enum": ["up", "down"], "description": "Scroll direction."},
			"amount": {"type": "integer", "description": "Pixels to scroll. Defaults to 300."}
		}
	}`)
}

func (t *BrowserScrollTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Direction string `json:"direction"`
		Amount    int    `json:"amount"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	if in.Amount == 0 {
		in.Amount = 300
	}
	delta := in.Amount
	if in.Direction == "up" {
		delta = -delta
	}
	script := fmt.Sprintf("window.scrollBy(0, %d)", delta)
	if err := t.Browser.run(chromedp.Evaluate(script, nil)); err != nil {
		return "", fmt.Errorf("scroll: %w", err)
	}
	return fmt.Sprintf("scrolled by %d pixels", delta), nil
}

// BrowserExtractTool pulls visible text from the page.
type BrowserExtractTool struct {
	Browser *Browser
}

func (t *BrowserExtractTool) Name() string { return "browser_extract" }

func (t *BrowserExtractTool) Description() string {
	return "Extract visible text from the page, or from the element matching a CSS selector."
}

func (t *BrowserExtractTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "description": "CSS selector; omit to extract the whole page."}
		}
	}`)
}

func (t *BrowserExtractTool) Execute(ctx context.Context, call *agent.ToolCall) (string, error) {
	var in struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(call.Args, &in); err != nil {
		return "", err
	}
	sel := in.Selector
	if sel == "" {
		sel = "body"
	}
	var text string
	if err := t.Browser.run(chromedp.Text(sel, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("extract %s: %w", sel, err)
	}
	text = collapseWhitespace(text)
	if len(text) > DefaultFetchMaxChars {
		text = text[:DefaultFetchMaxChars] + "\n[truncated]"
	}
	return strings.TrimSpace(text), nil
}

// BrowserCloseTool ends the session.
type BrowserCloseTool struct {
	Browser *Browser
}

func (t *BrowserCloseTool) Name() string { return "browser_close" }

func (t *BrowserCloseTool) Description() string {
	return "Close the browser session."
}

func (t *BrowserCloseTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *BrowserCloseTool) Execute(ctx context.Context, _ *agent.ToolCall) (string, error) {
	t.Browser.Shutdown()
	return "browser session closed", nil
}
