package submission_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"rebate/internal/config"
	"rebate/internal/repositories"
	"rebate/internal/services"
)

var Module = fx.Provide(
	provideSubmissionRepo,
	provideScanSessionRepo,
	provideSubmissionService,
	provideDecisionService,
)

func provideSubmissionRepo(db *gorm.DB) repositories.SubmissionRepository {
	return repositories.NewSubmissionRepository(db)
}

func provideScanSessionRepo(db *gorm.DB) repositories.ScanSessionRepository {
	return repositories.NewScanSessionRepository(db)
}

func provideSubmissionService(
	submissions repositories.SubmissionRepository,
	sessions repositories.ScanSessionRepository,
	log *zap.Logger,
) services.SubmissionService {
	return services.NewSubmissionService(submissions, sessions, log)
}

func provideDecisionService(
	cfg *config.Config,
	submissions repositories.SubmissionRepository,
	sessions repositories.ScanSessionRepository,
	policy services.ScoringPolicy,
	guard services.CapGuard,
	payouts services.PayoutService,
	log *zap.Logger,
) services.DecisionService {
	return services.NewDecisionService(
		submissions, sessions, policy, guard, payouts,
		services.DecisionOptions{AutoApprovalEnabled: cfg.AutoApproval.Enabled},
		log, nil,
	)
}
