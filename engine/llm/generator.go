package llm

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/pkg/resilience"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Complexity selects which model tier a Generate call routes to (spec
// §4.2: "routes to a configured model per complexity tier").
type Complexity string

const (
	ComplexityHigh Complexity = "high"
	ComplexityLow  Complexity = "low"
)

// GeneratorConfig names the two model tiers. HighModel handles
// extraction/resolution/naming calls that need strong reasoning;
// LowModel handles cheap classification-shaped calls.
type GeneratorConfig struct {
	HighModel string
	LowModel  string
	MaxTokens int64
	APIKey    string
	BaseURL   string // empty uses the SDK default
}

// Generator is the complexity-tiered chat-completion client every C6-C10
// prompt call goes through. Every outbound call is rate-limited and
// circuit-broken independently of the SDK's own retry behavior, so a
// sustained Anthropic outage fails fast instead of queuing every C6/C7/
// C8/C9/C10 caller behind the SDK's internal backoff.
type Generator struct {
	sdk       anthropic.Client
	highModel string
	lowModel  string
	maxTokens int64
	limiter   *resilience.Limiter
	breaker   *resilience.Breaker
}

// NewGenerator creates a Generator. Mirrors
// _examples/intelligencedev-manifold's internal/llm/anthropic.Client
// constructor shape, minus the streaming/tool-call surface this system
// never needs.
func NewGenerator(cfg GeneratorConfig) *Generator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Generator{
		sdk:       anthropic.NewClient(opts...),
		highModel: cfg.HighModel,
		lowModel:  cfg.LowModel,
		maxTokens: maxTokens,
		limiter:   resilience.NewLimiter(resilience.LimiterOpts{Rate: 10, Burst: 10}),
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// GenerateOpts configures a single Generate call.
type GenerateOpts struct {
	Complexity Complexity
	System     string
	Prompt     string
}

// GenerateResult is a completion plus its token accounting, fed directly
// into engine/ingest's TokenUsage bookkeeping (spec §4.11).
type GenerateResult struct {
	Text  string
	Usage domain.TokenUsage
}

// Generate issues one single-shot, non-streaming completion routed to
// the configured model for opts.Complexity.
func (g *Generator) Generate(ctx context.Context, opts GenerateOpts) (GenerateResult, error) {
	model := g.lowModel
	if opts.Complexity == ComplexityHigh {
		model = g.highModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(opts.Prompt)),
		},
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	var resp *anthropic.Message
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		return g.limiter.CallWait(ctx, func(ctx context.Context) error {
			r, err := g.sdk.Messages.New(ctx, params)
			if err != nil {
				return domain.NewAdapterError("generator", err)
			}
			resp = r
			return nil
		})
	})
	if err != nil {
		if err == resilience.ErrCircuitOpen {
			return GenerateResult{}, domain.NewAdapterError("generator", err)
		}
		return GenerateResult{}, err
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	usage := domain.TokenUsage{}
	if opts.Complexity == ComplexityHigh {
		usage.HighInput = int(resp.Usage.InputTokens)
		usage.HighOutput = int(resp.Usage.OutputTokens)
	} else {
		usage.LowInput = int(resp.Usage.InputTokens)
		usage.LowOutput = int(resp.Usage.OutputTokens)
	}

	return GenerateResult{Text: text, Usage: usage}, nil
}
