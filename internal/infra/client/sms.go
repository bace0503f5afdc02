package client

import (
	"context"
	"errors"

	"github.com/boddenberg/billingiq-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioAPI is the subset of the Twilio REST client used here.
type TwilioAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSClient sends text messages through Twilio.
type SMSClient struct {
	api  TwilioAPI
	from string
	cb   *gobreaker.CircuitBreaker
	cfg  resilience.Config
}

// NewSMSClient creates an SMSClient on an existing API.
func NewSMSClient(api TwilioAPI, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *SMSClient {
	return &SMSClient{api: api, from: from, cb: cb, cfg: cfg}
}

// NewTwilioSMSClient builds an SMSClient from account credentials.
func NewTwilioSMSClient(accountSID, authToken, from string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *SMSClient {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewSMSClient(rest.Api, from, cb, cfg)
}

// SendSMS sends body to the E.164 number to and returns the message SID.
func (c *SMSClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	ctx, span := tracer.Start(ctx, "SMSClient.SendSMS")
	defer span.End()

	return resilience.Execute(ctx, c.cb, c.cfg, "twilio", func(context.Context) (string, error) {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(c.from)
		params.SetBody(body)

		resp, err := c.api.CreateMessage(params)
		if err != nil {
			return "", err
		}
		if resp.Sid == nil {
			return "", resilience.Permanent(errors.New("twilio returned no message sid"))
		}
		return *resp.Sid, nil
	})
}
