package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"rebate/internal/models/request_models"
	"rebate/internal/models/response_models"
	"rebate/internal/services"
	"rebate/pkg/utils"
)

type SubmissionController struct {
	submissionService services.SubmissionService
	decisionService   services.DecisionService
}

func NewSubmissionController(submissionService services.SubmissionService, decisionService services.DecisionService) *SubmissionController {
	return &SubmissionController{
		submissionService: submissionService,
		decisionService:   decisionService,
	}
}

// CreateScanSession godoc
// @Summary Record a bottle scan
// @Description Stores the scanning pipeline's verdict; later decisions read bottle confidence from here
// @Tags Submissions
// @Accept json
// @Produce json
// @Param request body request_models.CreateScanSessionRequest true "Scan session"
// @Success 201 {object} utils.APIResponse
// @Router /scan-sessions [post]
func (sc *SubmissionController) CreateScanSession(c *gin.Context) {
	var request request_models.CreateScanSessionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	session, err := sc.submissionService.CreateScanSession(c.Request.Context(), request, c.ClientIP())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondWithStatus(c, http.StatusCreated, session, "Scan session recorded")
}

// CreateSubmission godoc
// @Summary Upload a proof of purchase
// @Tags Submissions
// @Accept json
// @Produce json
// @Param request body request_models.CreateSubmissionRequest true "Submission"
// @Success 201 {object} utils.APIResponse
// @Router /submissions [post]
func (sc *SubmissionController) CreateSubmission(c *gin.Context) {
	var request request_models.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	submission, err := sc.submissionService.CreateSubmission(c.Request.Context(), request, c.ClientIP())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondWithStatus(c, http.StatusCreated, submission, "Submission created")
}

// GetSubmission godoc
// @Summary Get a submission
// @Tags Submissions
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} utils.APIResponse
// @Router /submissions/{id} [get]
func (sc *SubmissionController) GetSubmission(c *gin.Context) {
	id, ok := parseSubmissionID(c)
	if !ok {
		return
	}

	submission, err := sc.submissionService.GetSubmission(c.Request.Context(), id)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, submission, "Fetched submission successfully")
}

// Decide godoc
// @Summary Run the approval decision for a submission
// @Description Scores the submission and, when it auto-approves, pays it. A payout failure after approval answers 202 with the payout error.
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Submission ID"
// @Param request body request_models.DecisionRequest true "Validation report and photo verdict"
// @Success 200 {object} utils.APIResponse
// @Success 202 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Router /submissions/{id}/decision [post]
func (sc *SubmissionController) Decide(c *gin.Context) {
	id, ok := parseSubmissionID(c)
	if !ok {
		return
	}

	var request request_models.DecisionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	result, err := sc.decisionService.Decide(c.Request.Context(), id, clientSignals(request), c.ClientIP())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	resp := toDecisionResponse(result)
	if result.PayoutAttempted && !result.PayoutSuccess {
		utils.RespondWithStatus(c, http.StatusAccepted, resp, "Submission approved, payout not completed")
		return
	}
	utils.RespondSuccess(c, resp, "Decision recorded")
}

func clientSignals(r request_models.DecisionRequest) services.ClientSignals {
	return services.ClientSignals{
		HasBrandKeyword:    r.Validation.HasKeepersHeart,
		HasReceiptKeywords: r.Validation.HasReceiptKeywords,
		MatchedKeywords:    r.Validation.MatchedKeywords,
		DetectedText:       r.Validation.DetectedText,
		Warnings:           r.Validation.Warnings,
		Errors:             r.Validation.Errors,
		IsLikelyRealPhoto:  r.Photo.IsLikelyRealPhoto,
	}
}

func toDecisionResponse(r *services.DecisionResult) response_models.DecisionResponse {
	return response_models.DecisionResponse{
		SubmissionID:    r.SubmissionID.String(),
		Status:          string(r.Status),
		Score:           r.Score,
		Scored:          r.Scored,
		AutoApproved:    r.AutoApproved,
		ReviewReason:    r.ReviewReason,
		PayoutAttempted: r.PayoutAttempted,
		PayoutSuccess:   r.PayoutSuccess,
		PayoutReference: r.PayoutReference,
		PayoutError:     r.PayoutError,
	}
}

func parseSubmissionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid submission id")
		return uuid.Nil, false
	}
	return id, true
}
