// Command auditstream is the Lambda that copies main-table changes into the
// audit table.
package main

import (
	"context"

	"github.com/boddenberg/billingiq-api/internal/audit"
	"github.com/boddenberg/billingiq-api/internal/config"
	"github.com/boddenberg/billingiq-api/internal/infra/client"
	"github.com/boddenberg/billingiq-api/internal/infra/dynamo"
	"github.com/boddenberg/billingiq-api/internal/infra/observability"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	awsCfg, err := client.LoadAWSConfig(context.Background(), cfg.AWSRegion)
	if err != nil {
		logger.Fatal("failed to load aws config", zap.Error(err))
	}

	store := dynamo.NewClient(
		dynamo.NewSDKClient(awsCfg, cfg.DynamoEndpoint),
		dynamo.ClientConfig{
			MaxAttempts: cfg.DynamoMaxAttempts,
			RetryDelay:  cfg.DynamoRetryDelay,
			CallTimeout: cfg.DynamoCallTimeout,
		},
		observability.NewMetrics(),
		logger,
	)

	handler := audit.NewHandler(store, cfg.AuditTable, logger)
	logger.Info("audit stream handler ready", zap.String("table", cfg.AuditTable))
	lambda.Start(handler.Handle)
}
