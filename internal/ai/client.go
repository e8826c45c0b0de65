// Package ai is the content-generation client used for AI-written steps.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jwalitptl/outreach-engine/pkg/circuitbreaker"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty completion")

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxRetries overrides the SDK's retry count when non-negative.
	MaxRetries int
}

type Client struct {
	client openai.Client
	model  string
	cb     *circuitbreaker.CircuitBreaker
	logger *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := cfg.Model
	if model == "" {
		model = string(shared.ChatModelGPT4oMini)
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "ai",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     time.Minute,
			OnStateChange: func(name, from, to string) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		}),
		logger: log,
	}
}

// GenerateJSON asks the model for a single JSON object and returns it raw.
func (c *Client) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	var content string
	err := c.cb.Execute(func() error {
		resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return content, nil
}
