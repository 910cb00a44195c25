package aiprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
)

// Verdict is the probe's categorical judgment of a review
type Verdict string

const (
	VerdictAuthentic  Verdict = "authentic"
	VerdictSuspicious Verdict = "suspicious"
	VerdictSpam       Verdict = "spam"
)

// Assessment is the probe's result for one review text
type Assessment struct {
	Score     int     `json:"score"`
	Verdict   Verdict `json:"verdict"`
	Reasoning string  `json:"reasoning"`
}

// FallbackAssessment is returned whenever the backend is unreachable,
// unconfigured, or returns something unparseable. The probe is a soft
// signal and must never block a review.
func FallbackAssessment() *Assessment {
	return &Assessment{Score: 50, Verdict: VerdictSuspicious, Reasoning: "fallback"}
}

const scorePrompt = `You are a review authenticity analyst. Assess the following product review and respond with a single JSON object, no markdown, no prose.

Title: %s
Category: %s
Rating: %d/5
Review:
%s

Respond exactly as: {"score": <0-100 integer>, "verdict": "<authentic|suspicious|spam>", "reasoning": "<one sentence>"}`

const summaryPrompt = `Summarize the community's sentiment about %q in at most two plain sentences, given an average rating of %.1f/5 across %d reviews and a trust score of %d/100. Respond with the summary only.`

// Scorer sends review text to a chat-completion backend and parses the
// structured verdict. A circuit breaker protects the pipeline from a
// misbehaving backend.
type Scorer struct {
	cfg     config.AIConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewScorer creates an AI review scorer
func NewScorer(cfg config.AIConfig) *Scorer {
	settings := gobreaker.Settings{
		Name:        "ai-backend",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := 0.0
			switch to {
			case gobreaker.StateOpen:
				state = 1.0
			case gobreaker.StateHalfOpen:
				state = 0.5
			}
			monitoring.SetCircuitBreakerState(name, state)
		},
	}
	return &Scorer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logging.NewLogger("aiprobe"),
	}
}

// ScoreReviewText assesses a review's authenticity. Never returns an
// error: every failure path degrades to FallbackAssessment.
func (s *Scorer) ScoreReviewText(ctx context.Context, title, content string, rating int, category string) *Assessment {
	if s.cfg.APIKey == "" {
		monitoring.RecordProbeDegraded("ai", "unconfigured")
		return FallbackAssessment()
	}

	prompt := fmt.Sprintf(scorePrompt, title, category, rating, content)

	start := time.Now()
	raw, err := s.breaker.Execute(func() (interface{}, error) {
		return s.complete(ctx, s.cfg.Model, prompt)
	})
	monitoring.RecordProbeLatency("ai", s.cfg.Model, time.Since(start))
	if err != nil {
		logging.LogProbeDegraded("ai", s.cfg.Model, err)
		monitoring.RecordProbeDegraded("ai", "backend_error")
		return FallbackAssessment()
	}

	assessment, err := parseAssessment(raw.(string))
	if err != nil {
		logging.LogProbeDegraded("ai", s.cfg.Model, err)
		monitoring.RecordProbeDegraded("ai", "parse_error")
		return FallbackAssessment()
	}
	return assessment
}

// Summarize produces a short natural-language summary for a trust report.
// Best effort: returns "" when the secondary model is unconfigured or the
// call fails, and the caller omits the field.
func (s *Scorer) Summarize(ctx context.Context, projectName string, avgRating float64, reviewCount, score int) string {
	if s.cfg.APIKey == "" || s.cfg.SummaryModel == "" {
		return ""
	}

	prompt := fmt.Sprintf(summaryPrompt, projectName, avgRating, reviewCount, score)
	raw, err := s.breaker.Execute(func() (interface{}, error) {
		return s.complete(ctx, s.cfg.SummaryModel, prompt)
	})
	if err != nil {
		logging.LogProbeDegraded("ai", s.cfg.SummaryModel, err)
		return ""
	}
	return strings.TrimSpace(raw.(string))
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *Scorer) complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion backend returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseAssessment extracts the JSON object from the model output and
// normalizes it. Models sometimes wrap the object in code fences or
// prose, so it parses from the first '{' to the last '}'.
func parseAssessment(output string) (*Assessment, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var a Assessment
	if err := json.Unmarshal([]byte(output[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment: %w", err)
	}

	if a.Score < 0 {
		a.Score = 0
	}
	if a.Score > 100 {
		a.Score = 100
	}
	switch a.Verdict {
	case VerdictAuthentic, VerdictSuspicious, VerdictSpam:
	default:
		a.Verdict = VerdictSuspicious
	}
	return &a, nil
}
