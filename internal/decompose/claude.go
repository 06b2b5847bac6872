package decompose

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultModel drafts plans when no model is configured.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// ClaudeConfig configures a ClaudeClient.
type ClaudeConfig struct {
	Model string
	// APIKey falls back to ANTHROPIC_API_KEY. Ignored with Bedrock.
	APIKey     string
	MaxTokens  int64
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// ClaudeClient is a Completer backed by the Anthropic API or AWS Bedrock.
type ClaudeClient struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu        sync.Mutex
	inputTok  int64
	outputTok int64
}

// NewClaudeClient creates a client. Bedrock credentials come from the usual
// AWS config chain.
func NewClaudeClient(ctx context.Context, cfg ClaudeConfig) (*ClaudeClient, error) {
	var opts []option.RequestOption
	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &ClaudeClient{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// bedrockModel maps Anthropic model names to Bedrock cross-region inference
// profiles. Unknown names pass through.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Model returns the model name requests are sent with.
func (c *ClaudeClient) Model() string {
	return string(c.model)
}

// Complete sends a single message and joins the text blocks of the reply.
func (c *ClaudeClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.inputTok += resp.Usage.InputTokens
	c.outputTok += resp.Usage.OutputTokens
	c.mu.Unlock()

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}
	return text, nil
}

// Usage returns the tokens spent so far.
func (c *ClaudeClient) Usage() (input, output int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTok, c.outputTok
}
