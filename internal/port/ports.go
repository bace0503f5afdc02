// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the concrete AWS, Twilio and storage adapters.
package port

import (
	"context"
	"io"
	"time"

	"github.com/boddenberg/billingiq-api/internal/domain"
)

// ObjectStorage stores receipt files.
type ObjectStorage interface {
	// Put uploads body and returns the stored object's key.
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string, metadata map[string]string) (string, error)
	PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// EmailSender delivers email.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, htmlBody string) (messageID string, err error)
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (sid string, err error)
}

// TextExtractor runs OCR over a stored object and returns its plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, bucket, key string) (string, error)
}

// ContentGenerator calls a hosted language model.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// EventBus publishes business events.
type EventBus interface {
	Publish(ctx context.Context, e domain.Event) error
	PublishBatch(ctx context.Context, events []domain.Event) (domain.BatchResult, error)
}

// TaskSubmitter runs work off the request path. Submit reports false when
// the task was dropped.
type TaskSubmitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// CustomerMirror receives customer writes for the relational mirror and
// reads them back for parity checks.
type CustomerMirror interface {
	UpsertCustomer(ctx context.Context, c *domain.Customer) error
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	ListByCompany(ctx context.Context, companyID string, filter domain.MirrorFilter) ([]domain.Customer, error)
}
