package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/overseer-dev/overseer/internal/phase"
)

// AnalyzeRequest carries everything the remote analyzer needs to judge a
// session: the recent output window, the operator's goal, and the detected
// tool's prompt conventions.
type AnalyzeRequest struct {
	Output       string
	Goal         string
	ToolID       string
	Instructions string
}

// Client is an opaque remote analyzer.
type Client interface {
	Name() string
	Analyze(ctx context.Context, req AnalyzeRequest) (*phase.Result, error)
}

// Factory builds clients from configuration. The engine uses it to
// construct failover clients on demand.
type Factory func(cfg Config) Client

const systemPrompt = `You supervise an interactive terminal session running a coding-assistant CLI. ` +
	`Given recent terminal output, decide whether the session needs a keystroke to keep moving. ` +
	`Respond with a single JSON object: {"needs_action": bool, "action_type": "select"|"confirm"|"text_input"|"shell_command"|"none", ` +
	`"suggested_action": string, "current_state": string, "reason": string}. ` +
	`Never suggest destructive commands. If the session is busy working, needs_action must be false.`

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint. The
// transport retries transient failures a bounded number of times with
// delay; every call also carries a hard timeout, and a timed-out call
// counts as a provider failure.
type HTTPClient struct {
	cfg     Config
	rest    *resty.Client
	limiter *rate.Limiter
}

// NewHTTPClient builds a client for one provider configuration.
func NewHTTPClient(cfg Config) *HTTPClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	rest := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeader("User-Agent", "overseer/1.0").
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		rest.SetAuthToken(cfg.APIKey)
	}
	rest.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &HTTPClient{cfg: cfg, rest: rest, limiter: limiter}
}

// NewClient is the default Factory.
func NewClient(cfg Config) Client { return NewHTTPClient(cfg) }

// Name returns the provider name this client calls.
func (c *HTTPClient) Name() string { return c.cfg.Name }

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Analyze sends the session snapshot to the provider and parses the reply.
func (c *HTTPClient) Analyze(ctx context.Context, req AnalyzeRequest) (*phase.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, classifyTransportError(c.cfg.Name, err)
	}
	if resp.IsError() {
		return nil, &Error{
			Kind:     KindRemote,
			Provider: c.cfg.Name,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 200)),
		}
	}

	result, err := ParseReply(resp.Body())
	if err != nil {
		return nil, &Error{Kind: KindParse, Provider: c.cfg.Name, Err: err}
	}
	return result, nil
}

// buildUserPrompt assembles the analysis prompt from the session snapshot.
func buildUserPrompt(req AnalyzeRequest) string {
	var b strings.Builder
	if req.Goal != "" {
		b.WriteString("Session goal: ")
		b.WriteString(req.Goal)
		b.WriteString("\n")
	}
	if req.ToolID != "" {
		b.WriteString("Foreground tool: ")
		b.WriteString(req.ToolID)
		b.WriteString("\n")
	}
	if req.Instructions != "" {
		b.WriteString(req.Instructions)
		b.WriteString("\n")
	}
	b.WriteString("Recent terminal output:\n```\n")
	b.WriteString(req.Output)
	b.WriteString("\n```")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
