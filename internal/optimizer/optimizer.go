// Package optimizer plans provider calls before they happen: it routes
// simple messages to cheaper models, budgets output tokens, trims history to
// fit the input budget, and estimates cost. The resulting plan is attached
// to the persisted message so a turn is auditable afterwards.
package optimizer

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/primehq/prime/pkg/models"
)

const (
	// DefaultOutputRatio scales the user message size into an output budget.
	DefaultOutputRatio = 3.0

	// MinOutputTokens / MaxOutputTokens bound the computed output budget.
	MinOutputTokens = 128
	MaxOutputTokens = 4096

	// BriefCapTokens caps output when the user asks for brevity.
	BriefCapTokens = 256

	// DetailedFloorTokens floors output when the user asks for detail.
	DetailedFloorTokens = 1024

	// DefaultMaxMessageTokens is the per-message hard cap during history
	// trimming.
	DefaultMaxMessageTokens = 1200

	// DefaultInputBudget is the total input token budget when the provider
	// config does not set one.
	DefaultInputBudget = 6000

	// minTailTokens is the smallest tail-truncated copy worth admitting
	// during history trimming.
	minTailTokens = 48

	// roleOverheadTokens approximates per-message framing cost.
	roleOverheadTokens = 4

	// reserveBufferTokens is held back for provider-side overhead.
	reserveBufferTokens = 64

	simpleMaxChars    = 600
	simpleMaxNewlines = 5
)

// complexityTokens flag a message as complex regardless of length. Latin and
// Cyrillic forms are both matched.
var complexityRe = regexp.MustCompile(`(?i)\b(analyze|explain|compare|design|implement|refactor|debug|prove|derive|step.?by.?step|алгоритм|проанализируй|объясни|сравни|докажи|реализуй|подробно)\b|` + "```")

var (
	briefRe    = regexp.MustCompile(`(?i)\b(brief|briefly|short|tl;?dr|кратко|коротко)\b`)
	detailedRe = regexp.MustCompile(`(?i)\b(detailed|in detail|step.?by.?step|thorough|подробно|пошагово)\b`)
)

// Plan is the optimizer snapshot attached to a turn.
type Plan struct {
	Model                 string            `json:"model"`
	Routed                bool              `json:"routed"`
	Complexity            string            `json:"complexity,omitempty"`
	OutputTokens          int               `json:"output_tokens"`
	History               []models.Message  `json:"-"`
	DroppedMessages       int               `json:"dropped_messages"`
	TruncatedMessages     int               `json:"truncated_messages"`
	EstimatedInputTokens  int               `json:"estimated_input_tokens"`
	EstimatedOutputTokens int               `json:"estimated_output_tokens"`
	InputBudgetTokens     int               `json:"input_budget_tokens"`
	EstimatedCostUSD      float64           `json:"estimated_cost_usd"`
	Rates                 map[string]float64 `json:"rates,omitempty"`
}

// Request carries everything the optimizer needs for one turn.
type Request struct {
	Provider     *models.Provider
	SystemPrompt string
	UserMessage  string
	History      []models.Message
	// ExplicitMaxTokens wins over the computed output budget when positive.
	ExplicitMaxTokens int
}

// Optimize produces the plan for one provider call.
func Optimize(req Request) *Plan {
	opt := optimization(req.Provider)

	plan := &Plan{}
	plan.Model, plan.Routed, plan.Complexity = routeModel(req.Provider, opt, req.UserMessage)
	plan.OutputTokens = outputBudget(req, plan.Model)
	plan.EstimatedOutputTokens = plan.OutputTokens

	budget := DefaultInputBudget
	if opt != nil && opt.InputBudgetTokens > 0 {
		budget = opt.InputBudgetTokens
	}
	plan.InputBudgetTokens = budget

	maxMsg := DefaultMaxMessageTokens
	if opt != nil && opt.MaxMessageTokens > 0 {
		maxMsg = opt.MaxMessageTokens
	}

	trimHistory(plan, req, budget, maxMsg)
	estimateCost(plan, req.Provider)
	return plan
}

func optimization(p *models.Provider) *models.TokenOptimization {
	if p == nil {
		return nil
	}
	return p.Optimization
}

// EstimateTokens approximates token count as ceil(chars/4).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Classify tags a user message as "simple" or "complex" using the length,
// newline, and complexity-token heuristics.
func Classify(text string) string {
	if len(text) > simpleMaxChars {
		return "complex"
	}
	if strings.Count(text, "\n") > simpleMaxNewlines {
		return "complex"
	}
	if complexityRe.MatchString(text) {
		return "complex"
	}
	return "simple"
}

func routeModel(p *models.Provider, opt *models.TokenOptimization, userMessage string) (model string, routed bool, complexity string) {
	defaultModel := ""
	if p != nil {
		defaultModel = p.DefaultModel
	}
	if opt == nil || !opt.AutoRouteEnabled {
		return defaultModel, false, ""
	}

	complexity = Classify(userMessage)
	if target, ok := opt.RouteByComplexity[complexity]; ok && target != "" {
		return target, target != defaultModel, complexity
	}
	if complexity == "simple" {
		if cheapest := cheapestModel(p); cheapest != "" {
			return cheapest, cheapest != defaultModel, complexity
		}
	}
	return defaultModel, false, complexity
}

func cheapestModel(p *models.Provider) string {
	if p == nil || len(p.Models) == 0 {
		return ""
	}
	best := ""
	bestCost := math.MaxFloat64
	for name, mc := range p.Models {
		cost := mc.CostPer1MInput + mc.CostPer1MOutput
		if cost < bestCost || (cost == bestCost && name < best) {
			best = name
			bestCost = cost
		}
	}
	return best
}

func outputBudget(req Request, model string) int {
	if req.ExplicitMaxTokens > 0 {
		return req.ExplicitMaxTokens
	}

	ratio := DefaultOutputRatio
	if opt := optimization(req.Provider); opt != nil && opt.OutputRatio > 0 {
		ratio = opt.OutputRatio
	}

	upper := MaxOutputTokens
	if req.Provider != nil {
		if mc, ok := req.Provider.Models[model]; ok && mc.MaxTokens > 0 && mc.MaxTokens < upper {
			upper = mc.MaxTokens
		}
	}

	budget := int(float64(EstimateTokens(req.UserMessage)) * ratio)
	budget = clamp(budget, MinOutputTokens, upper)

	if briefRe.MatchString(req.UserMessage) && budget > BriefCapTokens {
		budget = BriefCapTokens
	}
	if detailedRe.MatchString(req.UserMessage) && budget < DetailedFloorTokens {
		budget = clamp(DetailedFloorTokens, MinOutputTokens, upper)
	}
	return budget
}

// trimHistory reserves room for the system prompt, the user message, and a
// buffer, then walks history newest-first admitting what fits. The final
// user message is never dropped.
func trimHistory(plan *Plan, req Request, budget, maxMsgTokens int) {
	systemTokens := EstimateTokens(req.SystemPrompt) + roleOverheadTokens
	userTokens := EstimateTokens(req.UserMessage) + roleOverheadTokens
	remaining := budget - systemTokens - userTokens - reserveBufferTokens

	used := systemTokens + userTokens
	var admitted []models.Message

	for i := len(req.History) - 1; i >= 0 && remaining > 0; i-- {
		msg := req.History[i]
		content := msg.Content
		msgTokens := EstimateTokens(content)
		if msgTokens > maxMsgTokens {
			content = tailTruncate(content, maxMsgTokens)
			msgTokens = EstimateTokens(content)
			if content != msg.Content {
				plan.TruncatedMessages++
			}
		}
		need := msgTokens + roleOverheadTokens

		if need <= remaining {
			kept := msg
			kept.Content = content
			admitted = append(admitted, kept)
			remaining -= need
			used += need
			continue
		}

		// The message does not fit whole. Admit a tail-truncated copy when
		// a useful amount of room is left, then stop.
		tail := remaining - roleOverheadTokens
		if tail >= minTailTokens {
			kept := msg
			kept.Content = tailTruncate(content, tail)
			admitted = append(admitted, kept)
			used += EstimateTokens(kept.Content) + roleOverheadTokens
			plan.TruncatedMessages++
		}
		break
	}

	// Whatever was not admitted was dropped, whichever way the walk
	// ended.
	plan.DroppedMessages = len(req.History) - len(admitted)

	// Reverse back to chronological order.
	for l, r := 0, len(admitted)-1; l < r; l, r = l+1, r-1 {
		admitted[l], admitted[r] = admitted[r], admitted[l]
	}
	plan.History = admitted
	plan.EstimatedInputTokens = used
}

// tailTruncate keeps the last maxTokens worth of characters, never
// cutting inside a multi-byte rune.
func tailTruncate(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	cut := len(text) - maxChars
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return "…" + text[cut:]
}

func estimateCost(plan *Plan, p *models.Provider) {
	if p == nil {
		return
	}
	mc, ok := p.Models[plan.Model]
	if !ok {
		return
	}
	inRate := mc.CostPer1MInput / 1e6
	outRate := mc.CostPer1MOutput / 1e6
	plan.Rates = map[string]float64{
		"input_per_token":  inRate,
		"output_per_token": outRate,
	}
	plan.EstimatedCostUSD = float64(plan.EstimatedInputTokens)*inRate +
		float64(plan.EstimatedOutputTokens)*outRate
}

// Cost computes the actual dollar cost of recorded usage against a provider
// model's rates.
func Cost(p *models.Provider, model string, usage models.Usage) float64 {
	if p == nil {
		return 0
	}
	mc, ok := p.Models[model]
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)*mc.CostPer1MInput/1e6 +
		float64(usage.OutputTokens)*mc.CostPer1MOutput/1e6
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
