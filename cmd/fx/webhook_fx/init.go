package webhook_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"rebate/internal/config"
	"rebate/internal/repositories"
	"rebate/internal/services"
	"rebate/pkg/paypal"
)

var Module = fx.Provide(provideWebhookService)

func provideWebhookService(
	cfg *config.Config,
	submissions repositories.SubmissionRepository,
	client *paypal.Client,
	log *zap.Logger,
) services.WebhookService {
	if cfg.PayPal.WebhookID == "" {
		if cfg.Webhook.TestMode {
			log.Warn("webhook signature verification disabled (test mode)")
		} else {
			log.Warn("paypal.webhook_id not set, every webhook delivery will be dropped")
		}
	}
	return services.NewWebhookService(submissions, client, services.WebhookOptions{
		WebhookID:  cfg.PayPal.WebhookID,
		TestMode:   cfg.Webhook.TestMode,
		Production: cfg.IsProduction(),
	}, log, nil)
}
