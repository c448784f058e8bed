package orderdesk

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const classificationPrompt = `Analyze this email and classify its intent:

**Order Request Indicators**:
- Specific product references (SKU, model numbers)
- Quantity specifications ("2 units", "all available")
- Purchase verbs ("buy", "order", "ship")
- Payment/shipping details

**Product Inquiry Indicators**:
- Question words ("how", "what", "does")
- Feature requests ("color options", "dimensions")
- Comparison requests ("vs X product")
- General information

**Examples**:
Order: "Please send 3 units of LTH-0978 to my NJ warehouse"
Inquiry: "What material is used in the winter collection jackets?"

**Email to Classify**:
Subject: %s
Content: %s

Respond ONLY with either:
- "order request"
- "product inquiry"`

type OpenAIClientOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// OpenAIClient implements both the Classifier and Drafter collaborator
// contracts over a chat-completion API. Constructing one without an
// API key is a fatal setup failure.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAIClient(opts OpenAIClientOptions) (*OpenAIClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidInput)
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4
	}
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
	}, nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", Transient(err)
	}
	if len(resp.Choices) == 0 {
		return "", Transient(fmt.Errorf("empty completion response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Classify(ctx context.Context, subject, message string) (string, error) {
	return c.complete(ctx, fmt.Sprintf(classificationPrompt, subject, message))
}

func (c *OpenAIClient) Draft(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt)
}
