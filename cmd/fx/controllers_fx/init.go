package controllers_fx

import (
	"go.uber.org/fx"
	"rebate/internal/api/controllers"
)

var Module = fx.Options(
	fx.Provide(controllers.NewSubmissionController),
	fx.Provide(controllers.NewWebhookController),
	fx.Provide(controllers.NewAdminController),
	fx.Provide(controllers.NewHealthController))
