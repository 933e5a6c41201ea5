package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"rebate/cmd/fx/config_fx"
	"rebate/cmd/fx/controllers_fx"
	"rebate/cmd/fx/db_fx"
	"rebate/cmd/fx/payout_fx"
	"rebate/cmd/fx/submission_fx"
	"rebate/cmd/fx/webhook_fx"
	"rebate/internal/api/controllers"
	"rebate/internal/config"
	"rebate/pkg/middleware"
)

// coreModules is everything below the HTTP layer.
var coreModules = fx.Options(
	config_fx.Module,
	db_fx.Module,
	submission_fx.Module,
	payout_fx.Module,
	webhook_fx.Module,
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules,
				controllers_fx.Module,

				fx.Provide(ProvideRouter),
				fx.Invoke(StartServer),
			)
			app.Run()
			return app.Err()
		},
	}
}

func StartServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("starting HTTP server", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

func ProvideRouter(
	cfg *config.Config,
	submissionController *controllers.SubmissionController,
	webhookController *controllers.WebhookController,
	adminController *controllers.AdminController,
	healthController *controllers.HealthController) *gin.Engine {

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.TraceIDMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.MetricsMiddleware())

	RegisterRoutes(r, []byte(cfg.JWT.Secret), submissionController, webhookController, adminController, healthController)

	return r
}

func RegisterRoutes(r *gin.Engine,
	jwtSecret []byte,
	submissionController *controllers.SubmissionController,
	webhookController *controllers.WebhookController,
	adminController *controllers.AdminController,
	healthController *controllers.HealthController) {

	r.GET("/healthz", healthController.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/scan-sessions", submissionController.CreateScanSession)

	submissionsGroup := r.Group("/submissions")
	submissionsGroup.POST("", submissionController.CreateSubmission)
	submissionsGroup.GET("/:id", submissionController.GetSubmission)
	submissionsGroup.POST("/:id/decision", submissionController.Decide)

	r.POST("/webhooks/paypal", webhookController.HandlePayPalWebhook)

	adminGroup := r.Group("/admin", middleware.JWTAuthMiddleware(jwtSecret), middleware.RoleMiddleware("admin"))
	adminGroup.GET("/submissions/pending", adminController.ListPending)
	adminGroup.POST("/submissions/:id/approve", adminController.Approve)
	adminGroup.POST("/submissions/:id/reject", adminController.Reject)
	adminGroup.POST("/submissions/:id/payout", adminController.RetryPayout)
}
