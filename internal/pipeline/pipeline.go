package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yuchenfeng/TrustGate/internal/aiprobe"
	"github.com/yuchenfeng/TrustGate/internal/attestation"
	"github.com/yuchenfeng/TrustGate/internal/chainprobe"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/registry"
	"github.com/yuchenfeng/TrustGate/internal/trustscore"
)

// ErrUsageProofRequired is returned when a submission demands an
// on-chain usage check and the wallet has never touched the project.
var ErrUsageProofRequired = errors.New("usage proof required")

// aiVerifyThreshold is the minimum AI score that marks a review verified.
const aiVerifyThreshold = 60

// stageTimeout bounds each enrichment stage so one slow upstream cannot
// stall a submission.
const stageTimeout = 10 * time.Second

// Stage names the pipeline's enrichment steps.
type Stage string

const (
	StageUsage       Stage = "usage_check"
	StageAI          Stage = "ai_check"
	StageAnchor      Stage = "chain_anchor"
	StageAttestation Stage = "attestation"
)

// StageResult captures one stage's outcome. Err is nil on success;
// Detail carries the stage's useful output (score, tx hash, sequence).
type StageResult struct {
	Stage  Stage  `json:"stage"`
	Err    error  `json:"-"`
	Failed bool   `json:"failed"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is the aggregated result of a submission. The review write
// always succeeds when Outcome is returned; stage failures are advisory.
type Outcome struct {
	Review *models.Review `json:"review"`
	Stages []StageResult  `json:"stages"`
}

// Stores is the persistence surface the pipeline mutates.
type Stores interface {
	GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	CreateReview(ctx context.Context, req *registry.CreateReviewRequest) (*models.Review, error)
	MarkAIVerified(ctx context.Context, reviewID uuid.UUID, score int) (bool, error)
	SetUsageProof(ctx context.Context, reviewID uuid.UUID, proofHash string) (bool, error)
	GetReview(ctx context.Context, reviewID uuid.UUID) (*models.Review, error)
}

// UsageProber checks wallet/contract interaction on chain.
type UsageProber interface {
	VerifyUsage(ctx context.Context, walletAddress, contractAddress string, category models.Category) (*chainprobe.UsageProof, error)
}

// TextScorer assesses review authenticity.
type TextScorer interface {
	ScoreReviewText(ctx context.Context, title, content string, rating int, category string) *aiprobe.Assessment
}

// Scorer computes the trust breakdown fed to the attestation.
type Scorer interface {
	Compute(ctx context.Context, projectID uuid.UUID) (*trustscore.Breakdown, error)
}

// Attester writes the immutable verification record.
type Attester interface {
	RecordAttestation(ctx context.Context, review *models.Review, breakdown *trustscore.Breakdown, verdict string) (*attestation.Receipt, error)
}

// ProofWriter anchors a payload on chain. Nil disables the stage.
type ProofWriter interface {
	WriteProof(ctx context.Context, payload []byte) (string, error)
}

// SubmitRequest is one review submission. Exactly one of ProjectID or
// ProjectSlug must be set. RequireUsageProof turns the usage probe into
// a gating pre-check instead of best-effort enrichment.
type SubmitRequest struct {
	ProjectID         uuid.UUID
	ProjectSlug       string
	ReviewerAddress   string
	Rating            int
	Content           string
	RequireUsageProof bool
}

// Orchestrator runs the review submission pipeline: persist the review,
// then fan out enrichment stages that are attempted independently and
// never roll back the core write.
type Orchestrator struct {
	stores   Stores
	usage    UsageProber
	ai       TextScorer
	engine   Scorer
	attester Attester
	anchor   ProofWriter
	logger   zerolog.Logger
}

// NewOrchestrator creates a review submission orchestrator. attester and
// anchor may be nil; their stages report a disabled result.
func NewOrchestrator(stores Stores, usage UsageProber, ai TextScorer, engine Scorer, attester Attester, anchor ProofWriter) *Orchestrator {
	return &Orchestrator{
		stores:   stores,
		usage:    usage,
		ai:       ai,
		engine:   engine,
		attester: attester,
		anchor:   anchor,
		logger:   logging.NewLogger("pipeline"),
	}
}

// Submit persists a review and runs the enrichment stages. The only
// errors returned are validation failures, a missing project, and a
// failed gating usage check; everything downstream of the review write
// is captured per stage in the Outcome.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*Outcome, error) {
	project, err := o.resolveProject(ctx, req)
	if err != nil {
		return nil, err
	}

	var gatingProof *chainprobe.UsageProof
	if req.RequireUsageProof {
		proof, probeErr := o.usage.VerifyUsage(ctx, req.ReviewerAddress, project.ChainAddress, project.Category)
		if probeErr != nil {
			return nil, probeErr
		}
		if !proof.Verified {
			return nil, ErrUsageProofRequired
		}
		gatingProof = proof
	}

	review, err := o.stores.CreateReview(ctx, &registry.CreateReviewRequest{
		ProjectID:       project.ID,
		ReviewerAddress: req.ReviewerAddress,
		Rating:          req.Rating,
		Content:         req.Content,
	})
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Review: review}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		verdict = string(aiprobe.VerdictSuspicious)
	)
	record := func(r StageResult) {
		r.Failed = r.Err != nil
		mu.Lock()
		outcome.Stages = append(outcome.Stages, r)
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		record(o.runUsageStage(ctx, project, review, gatingProof))
	}()
	go func() {
		defer wg.Done()
		result, v := o.runAIStage(ctx, project, review)
		mu.Lock()
		verdict = v
		mu.Unlock()
		record(result)
	}()
	wg.Wait()

	wg.Add(2)
	go func() {
		defer wg.Done()
		record(o.runAnchorStage(ctx, review))
	}()
	go func() {
		defer wg.Done()
		record(o.runAttestationStage(ctx, project, review, verdict))
	}()
	wg.Wait()

	// Re-read so the caller sees the enrichment flags the stages set.
	if fresh, readErr := o.stores.GetReview(ctx, review.ID); readErr == nil {
		outcome.Review = fresh
	}
	return outcome, nil
}

func (o *Orchestrator) resolveProject(ctx context.Context, req *SubmitRequest) (*models.Project, error) {
	if req.ProjectID != uuid.Nil {
		return o.stores.GetProjectByID(ctx, req.ProjectID)
	}
	if req.ProjectSlug != "" {
		return o.stores.GetProjectBySlug(ctx, req.ProjectSlug)
	}
	return nil, registry.ErrProjectRequired
}

// runUsageStage records the on-chain proof when the wallet has touched
// the project. A probe that already ran as a gating check is reused.
func (o *Orchestrator) runUsageStage(ctx context.Context, project *models.Project, review *models.Review, proof *chainprobe.UsageProof) StageResult {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	if proof == nil {
		var err error
		proof, err = o.usage.VerifyUsage(stageCtx, review.ReviewerAddress, project.ChainAddress, project.Category)
		if err != nil {
			return StageResult{Stage: StageUsage, Err: err}
		}
	}
	if !proof.Verified {
		return StageResult{Stage: StageUsage, Detail: "not verified"}
	}

	hash := sha256.Sum256([]byte(review.ReviewerAddress + "|" + project.ChainAddress + "|" + proof.Chain))
	proofHash := "0x" + hex.EncodeToString(hash[:])
	if _, err := o.stores.SetUsageProof(stageCtx, review.ID, proofHash); err != nil {
		return StageResult{Stage: StageUsage, Err: err}
	}
	return StageResult{Stage: StageUsage, Detail: proofHash}
}

// runAIStage scores the review text and marks it verified at or above
// the threshold. The conditional update keeps racing submissions from
// overwriting an earlier verdict.
func (o *Orchestrator) runAIStage(ctx context.Context, project *models.Project, review *models.Review) (StageResult, string) {
	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	assessment := o.ai.ScoreReviewText(stageCtx, project.Name, review.Content, review.Rating, string(project.Category))
	if assessment.Score >= aiVerifyThreshold {
		if _, err := o.stores.MarkAIVerified(stageCtx, review.ID, assessment.Score); err != nil {
			return StageResult{Stage: StageAI, Err: err}, string(assessment.Verdict)
		}
	}
	return StageResult{Stage: StageAI, Detail: string(assessment.Verdict)}, string(assessment.Verdict)
}

// runAnchorStage writes the verification payload on chain, log only on
// failure.
func (o *Orchestrator) runAnchorStage(ctx context.Context, review *models.Review) StageResult {
	if o.anchor == nil {
		return StageResult{Stage: StageAnchor, Detail: "disabled"}
	}

	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"review_id": review.ID.String(),
		"rating":    review.Rating,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return StageResult{Stage: StageAnchor, Err: err}
	}

	hash, err := o.anchor.WriteProof(stageCtx, payload)
	if err != nil {
		o.logger.Warn().Err(err).Str("review_id", review.ID.String()).Msg("Chain anchor failed")
		return StageResult{Stage: StageAnchor, Err: err}
	}
	return StageResult{Stage: StageAnchor, Detail: hash}
}

// runAttestationStage writes the immutable verification record, log only
// on failure. A missing attestation configuration disables the stage
// rather than failing the submission.
func (o *Orchestrator) runAttestationStage(ctx context.Context, project *models.Project, review *models.Review, verdict string) StageResult {
	if o.attester == nil {
		return StageResult{Stage: StageAttestation, Detail: "disabled"}
	}

	stageCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	breakdown, err := o.engine.Compute(stageCtx, project.ID)
	if err != nil {
		return StageResult{Stage: StageAttestation, Err: err}
	}

	receipt, err := o.attester.RecordAttestation(stageCtx, review, breakdown, verdict)
	if err != nil {
		o.logger.Warn().Err(err).Str("review_id", review.ID.String()).Msg("Attestation failed")
		return StageResult{Stage: StageAttestation, Err: err}
	}
	return StageResult{Stage: StageAttestation, Detail: receipt.Topic}
}
