package attestation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/yuchenfeng/TrustGate/internal/config"
	"github.com/yuchenfeng/TrustGate/internal/logging"
	"github.com/yuchenfeng/TrustGate/internal/models"
	"github.com/yuchenfeng/TrustGate/internal/monitoring"
	"github.com/yuchenfeng/TrustGate/internal/trustscore"
)

// ErrNotConfigured is returned when the attestation topic is unset.
// Configuration absence is distinct from a transient write failure so
// callers can disable the feature instead of retrying.
var ErrNotConfigured = errors.New("attestation log not configured")

// Receipt identifies where an attestation landed.
type Receipt struct {
	Topic    string `json:"topic"`
	Sequence int64  `json:"sequence"`
}

// message is the wire form written to the append-only log.
type message struct {
	ReviewID    string `json:"review_id"`
	ProjectID   string `json:"project_id"`
	ContentHash string `json:"content_hash"`
	Score       int    `json:"score"`
	Verdict     string `json:"verdict"`
	Timestamp   int64  `json:"timestamp"`
}

// Recorder writes immutable verification attestations to a Kafka topic
// and keeps a local audit copy. At most one attestation per review.
type Recorder struct {
	writer *kafka.Writer
	db     *pgxpool.Pool
	topic  string
	logger zerolog.Logger
}

// NewRecorder creates an attestation recorder. A recorder with an empty
// topic is valid but every RecordAttestation call fails with
// ErrNotConfigured.
func NewRecorder(cfg config.AttestationConfig, db *pgxpool.Pool) *Recorder {
	r := &Recorder{
		db:     db,
		topic:  cfg.Topic,
		logger: logging.NewLogger("attestation"),
	}
	if cfg.Topic != "" && len(cfg.Brokers) > 0 {
		r.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return r
}

// Enabled reports whether the recorder has a configured log.
func (r *Recorder) Enabled() bool {
	return r.writer != nil
}

// RecordAttestation appends one immutable record for a completed review
// verification. The log write must succeed before the audit row is
// inserted; the audit row's sequence is the receipt the caller stores.
func (r *Recorder) RecordAttestation(ctx context.Context, review *models.Review, breakdown *trustscore.Breakdown, verdict string) (*Receipt, error) {
	if r.writer == nil {
		return nil, ErrNotConfigured
	}

	hash := sha256.Sum256([]byte(review.Content))
	contentHash := hex.EncodeToString(hash[:])

	payload, err := json.Marshal(message{
		ReviewID:    review.ID.String(),
		ProjectID:   review.ProjectID.String(),
		ContentHash: contentHash,
		Score:       breakdown.Score,
		Verdict:     verdict,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attestation: %w", err)
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(review.ID.String()),
		Value: payload,
	})
	if err != nil {
		monitoring.RecordAttestation("write_failed")
		return nil, fmt.Errorf("failed to write attestation: %w", err)
	}

	var sequence int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO attestations (id, review_id, content_hash, score, verdict, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (review_id) DO NOTHING
		RETURNING sequence
	`, uuid.New(), review.ID, contentHash, breakdown.Score, verdict, r.topic).Scan(&sequence)
	if err != nil {
		// The log write is the durability guarantee; a duplicate or
		// failed audit row reads back the existing sequence.
		if seqErr := r.db.QueryRow(ctx,
			`SELECT sequence FROM attestations WHERE review_id = $1`, review.ID,
		).Scan(&sequence); seqErr != nil {
			monitoring.RecordAttestation("audit_failed")
			return nil, fmt.Errorf("failed to record attestation audit row: %w", err)
		}
	}

	monitoring.RecordAttestation("recorded")
	logging.LogAttestation(review.ID.String(), r.topic, sequence, "recorded")
	return &Receipt{Topic: r.topic, Sequence: sequence}, nil
}

// Close flushes and closes the underlying log writer.
func (r *Recorder) Close() error {
	if r.writer == nil {
		return nil
	}
	return r.writer.Close()
}
