package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/yuchenfeng/TrustGate/internal/config"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Configure output based on format and environment
	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "trustgate").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		// Get request ID
		requestID := c.GetString("request_id")

		// Build log event
		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		// Log request details
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogPayment logs a payment verification outcome
func LogPayment(requestID, signer, resource, outcome, amount string, demo bool) {
	event := log.Info()
	if outcome != "verified" {
		event = log.Warn()
	}
	event.
		Str("request_id", requestID).
		Str("signer", signer).
		Str("resource", resource).
		Str("outcome", outcome).
		Str("amount", amount).
		Bool("demo", demo).
		Msg("Payment event")
}

// LogAttestation logs an attestation write
func LogAttestation(reviewID, topic string, sequence int64, status string) {
	log.Info().
		Str("review_id", reviewID).
		Str("topic", topic).
		Int64("sequence", sequence).
		Str("status", status).
		Msg("Attestation event")
}

// LogProbeDegraded logs an evidence probe falling back to its neutral value.
// Degradation is expected operational behavior, not an error.
func LogProbeDegraded(probe, target string, err error) {
	log.Warn().
		Err(err).
		Str("probe", probe).
		Str("target", target).
		Msg("Probe degraded to fallback")
}

// LogSettlement logs a best-effort settlement transaction attempt
func LogSettlement(signer, txHash, status string) {
	log.Info().
		Str("signer", signer).
		Str("tx_hash", txHash).
		Str("status", status).
		Msg("Settlement event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

// SanitizeForLog removes sensitive data from strings for logging
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
