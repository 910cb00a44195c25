package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuchenfeng/TrustGate/internal/aiprobe"
	"github.com/yuchenfeng/TrustGate/internal/attestation"
	"github.com/yuchenfeng/TrustGate/internal/chainprobe"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/registry"
	"github.com/yuchenfeng/TrustGate/internal/trustscore"
)

type stubStores struct {
	mu          sync.Mutex
	project     *models.Project
	reviews     map[uuid.UUID]*models.Review
	aiVerified  int
	usageProofs int
}

func newStubStores() *stubStores {
	return &stubStores{
		project: &models.Project{
			ID:           uuid.New(),
			Slug:         "uniswap",
			Name:         "Uniswap",
			Category:     models.CategoryDeFiProtocol,
			ChainAddress: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		},
		reviews: make(map[uuid.UUID]*models.Review),
	}
}

func (s *stubStores) GetProjectByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	if id != s.project.ID {
		return nil, registry.ErrProjectNotFound
	}
	return s.project, nil
}

func (s *stubStores) GetProjectBySlug(_ context.Context, slug string) (*models.Project, error) {
	if slug != s.project.Slug {
		return nil, registry.ErrProjectNotFound
	}
	return s.project, nil
}

func (s *stubStores) CreateReview(_ context.Context, req *registry.CreateReviewRequest) (*models.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, registry.ErrInvalidRating
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	review := &models.Review{
		ID:              uuid.New(),
		ProjectID:       req.ProjectID,
		ReviewerAddress: req.ReviewerAddress,
		Rating:          req.Rating,
		Content:         req.Content,
		Status:          models.ReviewStatusActive,
	}
	s.reviews[review.ID] = review
	return review, nil
}

func (s *stubStores) MarkAIVerified(_ context.Context, id uuid.UUID, score int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return false, registry.ErrReviewNotFound
	}
	if r.AIVerified {
		return false, nil
	}
	r.AIVerified = true
	r.AIScore = &score
	s.aiVerified++
	return true, nil
}

func (s *stubStores) SetUsageProof(_ context.Context, id uuid.UUID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return false, registry.ErrReviewNotFound
	}
	if r.OnChainProofHash != nil {
		return false, nil
	}
	r.OnChainProofHash = &hash
	s.usageProofs++
	return true, nil
}

func (s *stubStores) GetReview(_ context.Context, id uuid.UUID) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, registry.ErrReviewNotFound
	}
	copied := *r
	return &copied, nil
}

type stubProber struct {
	proof *chainprobe.UsageProof
	err   error
}

func (p *stubProber) VerifyUsage(context.Context, string, string, models.Category) (*chainprobe.UsageProof, error) {
	return p.proof, p.err
}

type stubScorerText struct {
	assessment *aiprobe.Assessment
}

func (s *stubScorerText) ScoreReviewText(context.Context, string, string, int, string) *aiprobe.Assessment {
	return s.assessment
}

type stubEngine struct {
	breakdown *trustscore.Breakdown
	err       error
}

func (e *stubEngine) Compute(context.Context, uuid.UUID) (*trustscore.Breakdown, error) {
	return e.breakdown, e.err
}

type stubAttester struct {
	err   error
	calls int
}

func (a *stubAttester) RecordAttestation(context.Context, *models.Review, *trustscore.Breakdown, string) (*attestation.Receipt, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &attestation.Receipt{Topic: "attestations", Sequence: 1}, nil
}

type stubAnchor struct {
	err error
}

func (a *stubAnchor) WriteProof(context.Context, []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "0xanchor", nil
}

func stageByName(t *testing.T, outcome *Outcome, stage Stage) StageResult {
	t.Helper()
	for _, s := range outcome.Stages {
		if s.Stage == stage {
			return s
		}
	}
	t.Fatalf("stage %s not found", stage)
	return StageResult{}
}

func TestSubmitAllStagesSucceed(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{proof: &chainprobe.UsageProof{Verified: true, InteractionCount: 3, Chain: "ethereum"}},
		&stubScorerText{assessment: &aiprobe.Assessment{Score: 85, Verdict: aiprobe.VerdictAuthentic}},
		&stubEngine{breakdown: &trustscore.Breakdown{Score: 57}},
		&stubAttester{},
		&stubAnchor{},
	)

	outcome, err := o.Submit(context.Background(), &SubmitRequest{
		ProjectSlug:     "uniswap",
		ReviewerAddress: "0xreviewer",
		Rating:          5,
		Content:         "works great",
	})
	require.NoError(t, err)
	require.Len(t, outcome.Stages, 4)

	for _, stage := range outcome.Stages {
		assert.False(t, stage.Failed, "stage %s failed: %v", stage.Stage, stage.Err)
	}

	assert.True(t, outcome.Review.AIVerified)
	require.NotNil(t, outcome.Review.AIScore)
	assert.Equal(t, 85, *outcome.Review.AIScore)
	assert.True(t, outcome.Review.Verified())
	assert.Equal(t, "0xanchor", stageByName(t, outcome, StageAnchor).Detail)
}

func TestSubmitBelowAIThresholdNotVerified(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{proof: &chainprobe.UsageProof{}},
		&stubScorerText{assessment: &aiprobe.Assessment{Score: 59, Verdict: aiprobe.VerdictSuspicious}},
		&stubEngine{breakdown: &trustscore.Breakdown{}},
		nil, nil,
	)

	outcome, err := o.Submit(context.Background(), &SubmitRequest{
		ProjectID:       stores.project.ID,
		ReviewerAddress: "0xreviewer",
		Rating:          2,
		Content:         "meh",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Review.AIVerified)
	assert.Equal(t, 0, stores.aiVerified)
}

func TestSubmitGatingUsageProof(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{proof: &chainprobe.UsageProof{Verified: false}},
		&stubScorerText{assessment: aiprobe.FallbackAssessment()},
		&stubEngine{breakdown: &trustscore.Breakdown{}},
		nil, nil,
	)

	_, err := o.Submit(context.Background(), &SubmitRequest{
		ProjectSlug:       "uniswap",
		ReviewerAddress:   "0xreviewer",
		Rating:            4,
		Content:           "never used it",
		RequireUsageProof: true,
	})
	assert.ErrorIs(t, err, ErrUsageProofRequired)
	assert.Empty(t, stores.reviews, "failed gating check must not persist a review")
}

func TestSubmitStageFailuresAreAdvisory(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{err: errors.New("explorer offline")},
		&stubScorerText{assessment: aiprobe.FallbackAssessment()},
		&stubEngine{breakdown: &trustscore.Breakdown{Score: 10}},
		&stubAttester{err: attestation.ErrNotConfigured},
		&stubAnchor{err: errors.New("rpc down")},
	)

	outcome, err := o.Submit(context.Background(), &SubmitRequest{
		ProjectSlug:     "uniswap",
		ReviewerAddress: "0xreviewer",
		Rating:          3,
		Content:         "ok",
	})
	require.NoError(t, err, "enrichment failures never fail the submission")
	require.Len(t, outcome.Stages, 4)

	assert.True(t, stageByName(t, outcome, StageUsage).Failed)
	assert.False(t, stageByName(t, outcome, StageAI).Failed)
	assert.True(t, stageByName(t, outcome, StageAnchor).Failed)
	assert.True(t, stageByName(t, outcome, StageAttestation).Failed)

	// The review write survived all of it.
	assert.Len(t, stores.reviews, 1)
}

func TestSubmitDisabledStages(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{proof: &chainprobe.UsageProof{}},
		&stubScorerText{assessment: aiprobe.FallbackAssessment()},
		&stubEngine{breakdown: &trustscore.Breakdown{}},
		nil, nil,
	)

	outcome, err := o.Submit(context.Background(), &SubmitRequest{
		ProjectSlug:     "uniswap",
		ReviewerAddress: "0xreviewer",
		Rating:          3,
		Content:         "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, "disabled", stageByName(t, outcome, StageAnchor).Detail)
	assert.Equal(t, "disabled", stageByName(t, outcome, StageAttestation).Detail)
}

func TestSubmitValidation(t *testing.T) {
	stores := newStubStores()
	o := NewOrchestrator(
		stores,
		&stubProber{proof: &chainprobe.UsageProof{}},
		&stubScorerText{assessment: aiprobe.FallbackAssessment()},
		&stubEngine{breakdown: &trustscore.Breakdown{}},
		nil, nil,
	)

	_, err := o.Submit(context.Background(), &SubmitRequest{ReviewerAddress: "0x1", Rating: 3})
	assert.ErrorIs(t, err, registry.ErrProjectRequired)

	_, err = o.Submit(context.Background(), &SubmitRequest{ProjectSlug: "nonesuch", ReviewerAddress: "0x1", Rating: 3})
	assert.ErrorIs(t, err, registry.ErrProjectNotFound)

	_, err = o.Submit(context.Background(), &SubmitRequest{ProjectSlug: "uniswap", ReviewerAddress: "0x1", Rating: 9})
	assert.ErrorIs(t, err, registry.ErrInvalidRating)
}

func TestConcurrentVerificationSingleWinner(t *testing.T) {
	stores := newStubStores()
	review, err := stores.CreateReview(context.Background(), &registry.CreateReviewRequest{
		ProjectID:       stores.project.ID,
		ReviewerAddress: "0xreviewer",
		Rating:          5,
	})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := stores.SetUsageProof(context.Background(), review.ID, "0xsame")
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one request performs the write")

	// Losers read the winner's value.
	fresh, err := stores.GetReview(context.Background(), review.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OnChainProofHash)
	assert.Equal(t, "0xsame", *fresh.OnChainProofHash)
}
