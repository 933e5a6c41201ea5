package controllers

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"rebate/internal/services"
	"rebate/pkg/paypal"
	"rebate/pkg/utils"
)

const maxWebhookBody = 1 << 20

type WebhookController struct {
	webhookService services.WebhookService
	log            *zap.Logger
}

func NewWebhookController(webhookService services.WebhookService, log *zap.Logger) *WebhookController {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookController{webhookService: webhookService, log: log.Named("webhook_http")}
}

// HandlePayPalWebhook godoc
// @Summary PayPal payout item webhook
// @Description Always answers 200 so PayPal does not redeliver; the outcome is logged
// @Tags Webhooks
// @Accept json
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /webhooks/paypal [post]
func (wc *WebhookController) HandlePayPalWebhook(c *gin.Context) {
	// Verification needs the exact bytes PayPal signed.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		wc.log.Warn("could not read webhook body", zap.Error(err))
		utils.RespondSuccess(c, gin.H{"received": true}, "ok")
		return
	}

	outcome := wc.webhookService.HandleEvent(c.Request.Context(), body, paypal.HeadersFromRequest(c.Request.Header))
	wc.log.Debug("webhook handled",
		zap.String("trace_id", c.GetString("trace_id")),
		zap.String("outcome", string(outcome)))

	utils.RespondSuccess(c, gin.H{"received": true}, "ok")
}
