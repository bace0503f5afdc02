// Package client holds the adapters for external services: AWS (S3, SES,
// Textract, Bedrock, EventBridge) and Twilio. Every call goes through a
// circuit breaker and retry loop and fails with a domain error.
package client

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("client")

// LoadAWSConfig resolves credentials and region from the default chain.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return cfg, nil
}
