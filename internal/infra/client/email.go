package client

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/sony/gobreaker"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailClient sends HTML email through SES.
type EmailClient struct {
	api  SESAPI
	from string
	cb   *gobreaker.CircuitBreaker
	cfg  resilience.Config
}

// NewEmailClient creates an EmailClient sending from the given address.
func NewEmailClient(api SESAPI, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *EmailClient {
	return &EmailClient{api: api, from: from, cb: cb, cfg: cfg}
}

// Send delivers one message and returns the SES message id.
func (c *EmailClient) Send(ctx context.Context, recipient, subject, htmlBody string) (string, error) {
	ctx, span := tracer.Start(ctx, "EmailClient.Send")
	defer span.End()

	return resilience.Execute(ctx, c.cb, c.cfg, "ses", func(ctx context.Context) (string, error) {
		out, err := c.api.SendEmail(ctx, &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(c.from),
			Destination:      &types.Destination{ToAddresses: []string{recipient}},
			Content: &types.EmailContent{
				Simple: &types.Message{
					Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
					Body: &types.Body{
						Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
					},
				},
			},
		})
		if err != nil {
			return "", err
		}
		return aws.ToString(out.MessageId), nil
	})
}
