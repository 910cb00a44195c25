package trustscore

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/yuchenfeng/TrustGate/internal/community"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
)

var ErrProjectNotFound = errors.New("project not found")

// recentWindow is how far back a review counts as recent.
const recentWindow = 30 * 24 * time.Hour

// Weights of the four evidence signals. They sum to 1.0.
const (
	weightOnChain   = 0.4
	weightVerified  = 0.3
	weightCommunity = 0.2
	weightAIQuality = 0.1
)

// Breakdown is the derived, non-persistent result of a full score
// computation. Each sub-score is clamped to [0,100].
type Breakdown struct {
	OnChainActivity int `json:"on_chain_activity"`
	VerifiedReviews int `json:"verified_reviews"`
	CommunityTrust  int `json:"community_trust"`
	AIQuality       int `json:"ai_quality"`
	Score           int `json:"score"`
}

// RiskLevel buckets a final score for consumers that want a label
// instead of a number.
func RiskLevel(score int) string {
	switch {
	case score >= 80:
		return "low"
	case score >= 60:
		return "moderate"
	case score >= 40:
		return "elevated"
	default:
		return "high"
	}
}

// ProjectStore is the subset of the registry the engine reads.
type ProjectStore interface {
	GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ListAllReviews(ctx context.Context, projectID uuid.UUID) ([]models.Review, error)
}

// SignalReader provides the community evidence signal.
type SignalReader interface {
	ReadSignal(ctx context.Context, projectID uuid.UUID) (*community.Signal, error)
}

// Engine combines the evidence signals into one weighted score. It does
// no network I/O of its own; it only fails when the project is missing.
type Engine struct {
	store     ProjectStore
	community SignalReader
	baselines *BaselineConfig
}

// NewEngine creates a trust score engine
func NewEngine(store ProjectStore, reader SignalReader, baselines *BaselineConfig) *Engine {
	if baselines == nil {
		baselines = DefaultBaselines()
	}
	return &Engine{store: store, community: reader, baselines: baselines}
}

// Compute produces the full weighted breakdown for a project.
func (e *Engine) Compute(ctx context.Context, projectID uuid.UUID) (*Breakdown, error) {
	project, err := e.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, ErrProjectNotFound
	}

	reviews, err := e.store.ListAllReviews(ctx, projectID)
	if err != nil {
		return nil, err
	}

	signal, err := e.community.ReadSignal(ctx, projectID)
	if err != nil {
		return nil, err
	}

	baseline := e.baselines.Lookup(project.Name, project.Category)
	breakdown := computeBreakdown(baseline, reviews, signal, time.Now())
	monitoring.RecordTrustScore(string(project.Category), breakdown.Score)
	return breakdown, nil
}

// computeBreakdown is the pure scoring core. Sub-scores are clamped to
// [0,100] and rounded before the weighted combination, so the final
// score is reproducible from the integer breakdown alone.
func computeBreakdown(baseline int, reviews []models.Review, signal *community.Signal, now time.Time) *Breakdown {
	aiQuality := clamp(float64(baseline))

	if len(reviews) == 0 {
		return &Breakdown{
			AIQuality: aiQuality,
			Score:     int(math.Round(float64(aiQuality) * weightAIQuality)),
		}
	}

	total := len(reviews)
	verified := 0
	active := 0
	recent := 0
	ratingSum := 0
	for _, r := range reviews {
		if r.Verified() {
			verified++
		}
		if r.Status == models.ReviewStatusActive {
			active++
			ratingSum += r.Rating
		}
		if now.Sub(r.CreatedAt) <= recentWindow {
			recent++
		}
	}

	verificationRate := 100 * float64(verified) / float64(total)
	volumeBonus := math.Min(20, float64(verified)*2)
	onChain := clamp(verificationRate + volumeBonus)

	avgRating := 0.0
	if active > 0 {
		avgRating = float64(ratingSum) / float64(active)
	}
	ratingScore := 100 * avgRating / 5
	recencyBonus := math.Min(20, 20*float64(recent)/float64(total))
	activeRate := 100 * float64(active) / float64(total)
	verifiedScore := clamp(ratingScore*0.6 + recencyBonus + activeRate*0.2)

	communityScore := 0
	if signal.TotalReviews > 0 {
		upvoteScore := math.Min(60, 10*float64(signal.TotalUpvotes)/float64(signal.TotalReviews))
		reputationScore := math.Min(40, 40*signal.AvgReviewerReputation/1000)
		communityScore = clamp(upvoteScore + reputationScore)
	}

	score := int(math.Round(
		float64(onChain)*weightOnChain +
			float64(verifiedScore)*weightVerified +
			float64(communityScore)*weightCommunity +
			float64(aiQuality)*weightAIQuality,
	))

	return &Breakdown{
		OnChainActivity: onChain,
		VerifiedReviews: verifiedScore,
		CommunityTrust:  communityScore,
		AIQuality:       aiQuality,
		Score:           score,
	}
}

// Simple produces the cold-start score used by list views. It blends the
// curated baseline with the raw average rating at weights that shift
// toward the community as reviews accumulate. It intentionally disagrees
// with Compute at low review counts; the two serve different callers.
func (e *Engine) Simple(project *models.Project) int {
	baseline := float64(e.baselines.Lookup(project.Name, project.Category))
	ratingScore := 100 * project.AverageRating / 5

	var blended float64
	switch {
	case project.ReviewCount <= 5:
		blended = baseline*0.6 + ratingScore*0.4
	case project.ReviewCount <= 20:
		blended = baseline*0.3 + ratingScore*0.7
	default:
		blended = baseline*0.1 + ratingScore*0.9
	}
	return clamp(blended)
}

// clamp bounds a value to [0,100] and rounds to the nearest integer.
func clamp(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}
