package aiprobe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuchenfeng/TrustGate/internal/config"
)

func chatBackend(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}))
}

func testScorer(baseURL string) *Scorer {
	return NewScorer(config.AIConfig{
		APIKey:       "test-key",
		BaseURL:      baseURL,
		Model:        "test-model",
		SummaryModel: "test-summary",
		Timeout:      2 * time.Second,
	})
}

func TestScoreReviewText(t *testing.T) {
	backend := chatBackend(`{"score": 85, "verdict": "authentic", "reasoning": "specific detail"}`)
	defer backend.Close()

	scorer := testScorer(backend.URL)
	a := scorer.ScoreReviewText(context.Background(), "Uniswap", "Swapped twice, worked fine", 5, "defi-protocol")

	assert.Equal(t, 85, a.Score)
	assert.Equal(t, VerdictAuthentic, a.Verdict)
	assert.Equal(t, "specific detail", a.Reasoning)
}

func TestScoreReviewTextFencedJSON(t *testing.T) {
	backend := chatBackend("```json\n{\"score\": 30, \"verdict\": \"spam\", \"reasoning\": \"repeated text\"}\n```")
	defer backend.Close()

	scorer := testScorer(backend.URL)
	a := scorer.ScoreReviewText(context.Background(), "x", "buy now buy now", 5, "merchant")

	assert.Equal(t, 30, a.Score)
	assert.Equal(t, VerdictSpam, a.Verdict)
}

func TestScoreReviewTextGarbageFallsBack(t *testing.T) {
	backend := chatBackend("I cannot help with that request.")
	defer backend.Close()

	scorer := testScorer(backend.URL)
	a := scorer.ScoreReviewText(context.Background(), "x", "y", 3, "agent")

	assert.Equal(t, FallbackAssessment(), a)
}

func TestScoreReviewTextBackendDownFallsBack(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer backend.Close()

	scorer := testScorer(backend.URL)
	a := scorer.ScoreReviewText(context.Background(), "x", "y", 3, "agent")

	assert.Equal(t, FallbackAssessment(), a)
}

func TestScoreReviewTextUnconfiguredFallsBack(t *testing.T) {
	scorer := NewScorer(config.AIConfig{Timeout: time.Second})
	a := scorer.ScoreReviewText(context.Background(), "x", "y", 3, "agent")

	require.Equal(t, 50, a.Score)
	assert.Equal(t, VerdictSuspicious, a.Verdict)
	assert.Equal(t, "fallback", a.Reasoning)
}

func TestSummarize(t *testing.T) {
	backend := chatBackend("  Well regarded by reviewers.  ")
	defer backend.Close()

	scorer := testScorer(backend.URL)
	summary := scorer.Summarize(context.Background(), "Uniswap", 4.5, 6, 57)
	assert.Equal(t, "Well regarded by reviewers.", summary)
}

func TestSummarizeUnconfigured(t *testing.T) {
	scorer := NewScorer(config.AIConfig{APIKey: "k", Timeout: time.Second})
	assert.Empty(t, scorer.Summarize(context.Background(), "Uniswap", 4.5, 6, 57))
}

func TestParseAssessment(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    *Assessment
		wantErr bool
	}{
		{
			name:  "clean",
			input: `{"score": 70, "verdict": "authentic", "reasoning": "ok"}`,
			want:  &Assessment{Score: 70, Verdict: VerdictAuthentic, Reasoning: "ok"},
		},
		{
			name:  "clamped high",
			input: `{"score": 250, "verdict": "authentic", "reasoning": "ok"}`,
			want:  &Assessment{Score: 100, Verdict: VerdictAuthentic, Reasoning: "ok"},
		},
		{
			name:  "clamped low",
			input: `{"score": -5, "verdict": "spam", "reasoning": "ok"}`,
			want:  &Assessment{Score: 0, Verdict: VerdictSpam, Reasoning: "ok"},
		},
		{
			name:  "unknown verdict normalized",
			input: `{"score": 40, "verdict": "weird", "reasoning": "ok"}`,
			want:  &Assessment{Score: 40, Verdict: VerdictSuspicious, Reasoning: "ok"},
		},
		{
			name:    "no json",
			input:   "plain prose",
			wantErr: true,
		},
		{
			name:    "broken json",
			input:   `{"score": `,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAssessment(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
