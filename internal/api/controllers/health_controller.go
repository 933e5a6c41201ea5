package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"rebate/internal/infra"
	"rebate/pkg/utils"
)

type HealthController struct {
	ping func() error
}

func NewHealthController(db *gorm.DB) *HealthController {
	return &HealthController{ping: func() error { return infra.Ping(db) }}
}

// Healthz godoc
// @Summary Liveness and database reachability
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse
// @Router /healthz [get]
func (hc *HealthController) Healthz(c *gin.Context) {
	if err := hc.ping(); err != nil {
		utils.RespondError(c, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	utils.RespondSuccess(c, gin.H{"db": "ok"}, "healthy")
}
