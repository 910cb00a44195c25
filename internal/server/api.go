package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apierrors "github.com/yuchenfeng/TrustGate/internal/errors"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/middleware"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
	"github.com/yuchenfeng/TrustGate/internal/pipeline"
	"github.com/yuchenfeng/TrustGate/internal/registry"
	"github.com/yuchenfeng/TrustGate/internal/trustscore"
	"github.com/yuchenfeng/TrustGate/internal/x402"
)

// reviewPageSize is how many reviews a trust report embeds.
const reviewPageSize = 20

// ProjectReader is the read surface the API needs from the registry.
type ProjectReader interface {
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	ListReviews(ctx context.Context, projectID uuid.UUID, limit int) ([]models.Review, error)
}

// ScoreEngine computes trust scores.
type ScoreEngine interface {
	Compute(ctx context.Context, projectID uuid.UUID) (*trustscore.Breakdown, error)
	Simple(project *models.Project) int
}

// PaymentGate issues challenges and verifies payment headers.
type PaymentGate interface {
	Challenge(resource string, tier x402.Tier) x402.ChallengeBody
	VerifyHeader(ctx context.Context, header, resource string, tier x402.Tier) (*x402.Receipt, error)
}

// Submitter runs the review submission pipeline.
type Submitter interface {
	Submit(ctx context.Context, req *pipeline.SubmitRequest) (*pipeline.Outcome, error)
}

// Summarizer produces an optional natural-language report summary.
type Summarizer interface {
	Summarize(ctx context.Context, projectName string, avgRating float64, reviewCount, score int) string
}

// APIServer handles HTTP API requests
type APIServer struct {
	projects   ProjectReader
	engine     ScoreEngine
	gate       PaymentGate
	pipeline   Submitter
	summarizer Summarizer
	logger     zerolog.Logger
}

// NewAPIServer creates a new API server. summarizer may be nil; the
// report summary is omitted.
func NewAPIServer(projects ProjectReader, engine ScoreEngine, gate PaymentGate, submitter Submitter, summarizer Summarizer) *APIServer {
	return &APIServer{
		projects:   projects,
		engine:     engine,
		gate:       gate,
		pipeline:   submitter,
		summarizer: summarizer,
		logger:     logging.NewLogger("server"),
	}
}

// SetupRoutes configures all API routes
func (s *APIServer) SetupRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	router.GET("/trust/:slug", s.handleTrustReport)
	router.GET("/reviews/:slug", s.handleListReviews)
	router.POST("/reviews", s.handleSubmitReview)
}

func (s *APIServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// trustScorePayload is the score section of a trust report.
type trustScorePayload struct {
	Overall   int                   `json:"overall"`
	RiskLevel string                `json:"riskLevel"`
	Breakdown *trustscore.Breakdown `json:"breakdown"`
}

// handleTrustReport is the paid query surface. An unknown slug is a 404
// before any payment is demanded; a missing payment header yields a 402
// challenge; an invalid proof yields a 402 with a machine-readable
// reason.
func (s *APIServer) handleTrustReport(c *gin.Context) {
	slug := c.Param("slug")

	project, err := s.projects.GetProjectBySlug(c.Request.Context(), slug)
	if err != nil {
		monitoring.RecordTrustQuery("not_found")
		s.respondError(c, apierrors.ErrProjectNotFoundError)
		return
	}

	resource := c.Request.URL.Path
	header := c.GetHeader("X-Payment")
	if header == "" {
		monitoring.RecordTrustQuery("challenged")
		c.JSON(http.StatusPaymentRequired, s.gate.Challenge(resource, x402.TierQuery))
		return
	}

	receipt, err := s.gate.VerifyHeader(c.Request.Context(), header, resource, x402.TierQuery)
	if err != nil {
		monitoring.RecordTrustQuery("rejected")
		var rejection *x402.RejectionError
		if errors.As(err, &rejection) {
			s.respondError(c, apierrors.NewPaymentRejectedError(rejection.Reason))
			return
		}
		s.respondError(c, apierrors.ErrInternalServerError)
		return
	}

	breakdown, err := s.engine.Compute(c.Request.Context(), project.ID)
	if err != nil {
		s.respondError(c, apierrors.ErrInternalServerError)
		return
	}

	reviews, err := s.projects.ListReviews(c.Request.Context(), project.ID, reviewPageSize)
	if err != nil {
		s.respondError(c, apierrors.ErrInternalServerError)
		return
	}

	response := gin.H{
		"project": project,
		"trustScore": trustScorePayload{
			Overall:   breakdown.Score,
			RiskLevel: trustscore.RiskLevel(breakdown.Score),
			Breakdown: breakdown,
		},
		"reviews": reviews,
		"payment": receipt,
	}

	if s.summarizer != nil {
		if summary := s.summarizer.Summarize(c.Request.Context(), project.Name, project.AverageRating, project.ReviewCount, breakdown.Score); summary != "" {
			response["summary"] = summary
		}
	}

	monitoring.RecordTrustQuery("verified")
	c.JSON(http.StatusOK, response)
}

func (s *APIServer) handleListReviews(c *gin.Context) {
	slug := c.Param("slug")

	project, err := s.projects.GetProjectBySlug(c.Request.Context(), slug)
	if err != nil {
		s.respondError(c, apierrors.ErrProjectNotFoundError)
		return
	}

	reviews, err := s.projects.ListReviews(c.Request.Context(), project.ID, reviewPageSize)
	if err != nil {
		s.respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project_id":  project.ID,
		"simpleScore": s.engine.Simple(project),
		"reviews":     reviews,
	})
}

type submitReviewRequest struct {
	ProjectID         string `json:"projectId"`
	ProjectSlug       string `json:"projectSlug"`
	Address           string `json:"address" binding:"required"`
	Rating            int    `json:"rating" binding:"required"`
	Content           string `json:"content"`
	RequireUsageProof bool   `json:"requireUsageProof"`
}

func (s *APIServer) handleSubmitReview(c *gin.Context) {
	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	submit := &pipeline.SubmitRequest{
		ProjectSlug:       req.ProjectSlug,
		ReviewerAddress:   req.Address,
		Rating:            req.Rating,
		Content:           req.Content,
		RequireUsageProof: req.RequireUsageProof,
	}
	if req.ProjectID != "" {
		projectID, err := uuid.Parse(req.ProjectID)
		if err != nil {
			s.respondError(c, apierrors.NewInvalidRequestError("projectId is not a valid UUID"))
			return
		}
		submit.ProjectID = projectID
	}

	outcome, err := s.pipeline.Submit(c.Request.Context(), submit)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrUsageProofRequired):
			s.respondError(c, apierrors.NewUsageProofRequiredError(gin.H{
				"address": req.Address,
			}))
		case errors.Is(err, registry.ErrProjectNotFound):
			s.respondError(c, apierrors.ErrProjectNotFoundError)
		case errors.Is(err, registry.ErrInvalidRating),
			errors.Is(err, registry.ErrContentTooLong),
			errors.Is(err, registry.ErrAddressRequired),
			errors.Is(err, registry.ErrProjectRequired):
			s.respondError(c, apierrors.NewInvalidRequestError(err.Error()))
		default:
			logging.LogError(err, middleware.GetRequestIDFromContext(c), "server", "submit_review")
			s.respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"review": outcome.Review,
		"stages": outcome.Stages,
	})
}

// respondError sends a standardized error response
func (s *APIServer) respondError(c *gin.Context, apiErr *apierrors.APIError) {
	c.JSON(apiErr.HTTPStatus, apierrors.ErrorResponse{
		Error:     *apiErr,
		RequestID: middleware.GetRequestIDFromContext(c),
	})
}
