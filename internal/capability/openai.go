package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/assessd/internal/content"
	"github.com/fyrsmithlabs/assessd/internal/schema"
)

const (
	defaultRequestsPerSecond = 2.0
	defaultBurst             = 2
)

// Completer sends one system+user exchange to a chat model and returns the
// reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIConfig configures the OpenAI-backed ports.
type OpenAIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
}

// chatCompleter implements Completer with the openai-go SDK.
type chatCompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates a Completer backed by chat completions.
func NewOpenAICompleter(cfg OpenAIConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; set capability.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("capability model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &chatCompleter{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (c *chatCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// LLMPorts implements Ports on top of a chat model. Model replies are parsed
// as JSON; an unparseable draft surfaces as *schema.Error so the caller's
// retry policy applies.
type LLMPorts struct {
	llm     Completer
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLLMPorts creates ports that call llm, paced by a token bucket.
func NewLLMPorts(llm Completer, rps float64, burst int, logger *zap.Logger) *LLMPorts {
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPorts{
		llm:     llm,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

func (p *LLMPorts) complete(ctx context.Context, kind Kind, system, user string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", NewError(kind, fmt.Errorf("rate limiter: %w", err))
	}
	out, err := p.llm.Complete(ctx, system, user)
	if err != nil {
		p.logger.Warn("model call failed", zap.String("port", string(kind)), zap.Error(err))
		return "", NewError(kind, err)
	}
	return extractJSON(out), nil
}

func decodeDraft(raw string) (content.Draft, error) {
	var d content.Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return content.Draft{}, &schema.Error{Violations: []schema.Violation{{
			Field:   "$",
			Rule:    schema.RuleDecode,
			Message: err.Error(),
		}}}
	}
	return d, nil
}

// Generate implements Ports.
func (p *LLMPorts) Generate(ctx context.Context, grade int, topic string) (content.Draft, error) {
	raw, err := p.complete(ctx, KindGeneration, generatorSystem, generatePrompt(grade, topic))
	if err != nil {
		return content.Draft{}, err
	}
	return decodeDraft(raw)
}

// Review implements Ports.
func (p *LLMPorts) Review(ctx context.Context, req ReviewRequest) (content.ReviewResult, error) {
	prompt, err := reviewPrompt(req)
	if err != nil {
		return content.ReviewResult{}, NewError(KindReview, err)
	}
	raw, err := p.complete(ctx, KindReview, reviewerSystem, prompt)
	if err != nil {
		return content.ReviewResult{}, err
	}
	var r content.ReviewResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return content.ReviewResult{}, NewError(KindReview, fmt.Errorf("decode review: %w", err))
	}
	for i, fb := range r.Feedback {
		if !fb.Severity.Valid() {
			r.Feedback[i].Severity = content.SeverityMinor
		}
	}
	return r, nil
}

// Refine implements Ports.
func (p *LLMPorts) Refine(ctx context.Context, req RefineRequest) (content.Draft, error) {
	prompt, err := refinePrompt(req)
	if err != nil {
		return content.Draft{}, NewError(KindRefinement, err)
	}
	raw, err := p.complete(ctx, KindRefinement, refinerSystem, prompt)
	if err != nil {
		return content.Draft{}, err
	}
	return decodeDraft(raw)
}

// Tag implements Ports.
func (p *LLMPorts) Tag(ctx context.Context, req TagRequest) (content.TagSet, error) {
	prompt, err := tagPrompt(req)
	if err != nil {
		return content.TagSet{}, NewError(KindTagging, err)
	}
	raw, err := p.complete(ctx, KindTagging, taggerSystem, prompt)
	if err != nil {
		return content.TagSet{}, err
	}
	var tags content.TagSet
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return content.TagSet{}, NewError(KindTagging, fmt.Errorf("decode tags: %w", err))
	}
	if tags.Grade == 0 {
		tags.Grade = req.Grade
	}
	if tags.Topic == "" {
		tags.Topic = req.Topic
	}
	return tags, nil
}
