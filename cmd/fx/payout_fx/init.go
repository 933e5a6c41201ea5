package payout_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"rebate/internal/config"
	"rebate/internal/repositories"
	"rebate/internal/services"
	"rebate/pkg/paypal"
	"rebate/pkg/utils"
)

var Module = fx.Provide(
	providePayPalClient,
	provideScoringPolicy,
	provideCapGuard,
	providePayoutService,
	provideReviewService,
)

func providePayPalClient(cfg *config.Config, log *zap.Logger) *paypal.Client {
	client := paypal.NewClient(paypal.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		BaseURL:      paypal.BaseURLFor(cfg.PayPal.Environment),
		EmailSubject: cfg.PayPal.EmailSubject,
	}, nil)
	if !client.Configured() {
		log.Warn("paypal credentials not configured, payouts will fail until they are set")
	}
	return client
}

func provideScoringPolicy(cfg *config.Config) services.ScoringPolicy {
	return services.NewScoringPolicy(cfg.Scoring, cfg.AutoApproval.Threshold)
}

func provideCapGuard(cfg *config.Config, db *gorm.DB, log *zap.Logger) services.CapGuard {
	loc := utils.LoadLocation(cfg.AutoApproval.Timezone)
	if cfg.CapGuard.Mode == config.CapGuardMemory {
		log.Warn("daily cap guard is per process; the effective cap grows with the instance count",
			zap.Int("daily_cap", cfg.AutoApproval.DailyCap))
		return services.NewMemoryCapGuard(cfg.AutoApproval.DailyCap, loc, nil)
	}
	return services.NewStoreCapGuard(repositories.NewDailyCounterRepository(db), cfg.AutoApproval.DailyCap, loc, nil)
}

func providePayoutService(
	cfg *config.Config,
	submissions repositories.SubmissionRepository,
	client *paypal.Client,
	log *zap.Logger,
) services.PayoutService {
	return services.NewPayoutService(submissions, client, services.PayoutOptions{
		Cooldown: cfg.PayoutCooldown(),
		Note:     "Rebate for your recent purchase",
	}, log, nil)
}

func provideReviewService(
	submissions repositories.SubmissionRepository,
	payouts services.PayoutService,
	log *zap.Logger,
) services.ReviewService {
	return services.NewReviewService(submissions, payouts, log, nil)
}
