package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/infra/observability"
	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// BedrockAPI is the subset of the Bedrock runtime client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// GeneratorClient calls an Anthropic model hosted on Bedrock.
type GeneratorClient struct {
	api     BedrockAPI
	modelID string
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	metrics *observability.Metrics
}

// NewGeneratorClient creates a GeneratorClient for modelID.
func NewGeneratorClient(api BedrockAPI, modelID string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *GeneratorClient {
	return &GeneratorClient{api: api, modelID: modelID, cb: cb, cfg: cfg, metrics: metrics}
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends prompt as a single user message and returns the text reply.
func (c *GeneratorClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	ctx, span := tracer.Start(ctx, "GeneratorClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("bedrock.model", c.modelID))

	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		Messages:         []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	return resilience.Execute(ctx, c.cb, c.cfg, "bedrock", func(ctx context.Context) (string, error) {
		out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(c.modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return "", err
		}
		var resp messagesResponse
		if err := json.Unmarshal(out.Body, &resp); err != nil {
			return "", resilience.Permanent(fmt.Errorf("decoding model response: %w", err))
		}
		if c.metrics != nil {
			c.metrics.RecordTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}
		var sb strings.Builder
		for _, part := range resp.Content {
			if part.Type == "text" {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() == 0 {
			return "", resilience.Permanent(errors.New("model returned no text"))
		}
		return sb.String(), nil
	})
}
