package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"rebate/internal/models/request_models"
	"rebate/internal/models/response_models"
	"rebate/internal/services"
	"rebate/pkg/utils"
)

type AdminController struct {
	reviewService services.ReviewService
}

func NewAdminController(reviewService services.ReviewService) *AdminController {
	return &AdminController{reviewService: reviewService}
}

// ListPending godoc
// @Summary List submissions waiting for a reviewer
// @Tags Admin
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size (1-100)"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/submissions/pending [get]
func (ac *AdminController) ListPending(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid page number")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid page size (must be 1-100)")
		return
	}

	submissions, err := ac.reviewService.ListPending(c.Request.Context(), page, pageSize)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, submissions, "Fetched pending submissions successfully")
}

// Approve godoc
// @Summary Approve a pending submission and pay it
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param request body request_models.ApproveSubmissionRequest false "Reviewer note"
// @Success 200 {object} utils.APIResponse
// @Success 202 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/submissions/{id}/approve [post]
func (ac *AdminController) Approve(c *gin.Context) {
	id, ok := parseSubmissionID(c)
	if !ok {
		return
	}

	var request request_models.ApproveSubmissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	result, err := ac.reviewService.Approve(c.Request.Context(), id, c.GetString("user_id"), request.Note)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	resp := toReviewResponse(result)
	if !result.PayoutSuccess {
		utils.RespondWithStatus(c, http.StatusAccepted, resp, "Submission approved, payout not completed")
		return
	}
	utils.RespondSuccess(c, resp, "Submission approved and paid")
}

// Reject godoc
// @Summary Reject a pending submission
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param request body request_models.RejectSubmissionRequest true "Rejection reason"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/submissions/{id}/reject [post]
func (ac *AdminController) Reject(c *gin.Context) {
	id, ok := parseSubmissionID(c)
	if !ok {
		return
	}

	var request request_models.RejectSubmissionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	result, err := ac.reviewService.Reject(c.Request.Context(), id, c.GetString("user_id"), request.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, toReviewResponse(result), "Submission rejected")
}

// RetryPayout godoc
// @Summary Retry the payout of an approved submission
// @Tags Admin
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Failure 429 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/submissions/{id}/payout [post]
func (ac *AdminController) RetryPayout(c *gin.Context) {
	id, ok := parseSubmissionID(c)
	if !ok {
		return
	}

	result, err := ac.reviewService.RetryPayout(c.Request.Context(), id)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, response_models.PayoutResponse{
		SubmissionID:    result.SubmissionID.String(),
		PayoutReference: result.PayoutReference,
		BatchID:         result.BatchID,
		Status:          result.ItemStatus,
	}, "Payout sent")
}

func toReviewResponse(r *services.ReviewResult) response_models.DecisionResponse {
	return response_models.DecisionResponse{
		SubmissionID:    r.SubmissionID.String(),
		Status:          string(r.Status),
		PayoutAttempted: r.PayoutAttempted,
		PayoutSuccess:   r.PayoutSuccess,
		PayoutReference: r.PayoutReference,
		PayoutError:     r.PayoutError,
	}
}
