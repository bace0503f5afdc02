package client

import (
	"context"
	"strings"

	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/sony/gobreaker"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractClient extracts text from documents stored in S3.
type TextractClient struct {
	api TextractAPI
	cb  *gobreaker.CircuitBreaker
	cfg resilience.Config
}

// NewTextractClient creates a TextractClient.
func NewTextractClient(api TextractAPI, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *TextractClient {
	return &TextractClient{api: api, cb: cb, cfg: cfg}
}

// ExtractText returns the document's LINE blocks joined by newlines.
func (c *TextractClient) ExtractText(ctx context.Context, bucket, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "TextractClient.ExtractText")
	defer span.End()

	return resilience.Execute(ctx, c.cb, c.cfg, "textract", func(ctx context.Context) (string, error) {
		out, err := c.api.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
			Document: &types.Document{
				S3Object: &types.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)},
			},
		})
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(out.Blocks))
		for _, b := range out.Blocks {
			if b.BlockType == types.BlockTypeLine && b.Text != nil {
				lines = append(lines, *b.Text)
			}
		}
		return strings.Join(lines, "\n"), nil
	})
}
