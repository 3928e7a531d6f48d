package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/prophet/market-engine/internal/model"
)

const reviewPrompt = `You review claims for a prediction market. A claim is acceptable when it
is a single verifiable factual statement about the past or present, stated
affirmatively, with no opinion, question or prediction.

Reply with a JSON object only:
{"decision": "approve" or "reject",
 "description": one sentence explaining the decision,
 "variants": up to 3 alternative affirmative phrasings of the same fact (approve only)}`

const extractPrompt = `Extract the verifiable factual claims made in the user's text. Each claim
must be one affirmative sentence without commas, questions or predictions,
at most 200 characters.

Reply with a JSON object only: {"claims": ["...", "..."]}`

// ErrMalformedReply is returned when the model's reply cannot be parsed.
var ErrMalformedReply = errors.New("review: malformed model reply")

// OpenAIConfig configures the OpenAI reviewer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for compatible endpoints
	Model   string
	Timeout time.Duration
}

// OpenAI reviews claims with a chat completion model.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates an OpenAI reviewer.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("review: OpenAI API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Review(ctx context.Context, claim model.Claim) (*Verdict, error) {
	reply, err := o.complete(ctx, reviewPrompt, claim.Text)
	if err != nil {
		return nil, err
	}
	return parseVerdict(reply)
}

func (o *OpenAI) Extract(ctx context.Context, text string) ([]string, error) {
	reply, err := o.complete(ctx, extractPrompt, text)
	if err != nil {
		return nil, err
	}
	var out struct {
		Claims []string `json:"claims"`
	}
	if err := json.Unmarshal([]byte(stripFences(reply)), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return dedupe(out.Claims), nil
}

func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("review: OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedReply)
	}
	return resp.Choices[0].Message.Content, nil
}

// parseVerdict decodes a model reply into a Verdict.
func parseVerdict(reply string) (*Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(stripFences(reply)), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	v.Decision = Decision(strings.ToLower(strings.TrimSpace(string(v.Decision))))
	switch v.Decision {
	case Approve:
		v.Variants = dedupe(v.Variants)
	case Reject:
		v.Variants = nil
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrMalformedReply, v.Decision)
	}
	v.Description = strings.TrimSpace(v.Description)
	return &v, nil
}

// stripFences removes a surrounding Markdown code fence some models add
// even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

var _ Reviewer = (*OpenAI)(nil)
