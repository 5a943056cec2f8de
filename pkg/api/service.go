package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cadplug/pkg/observability"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

// DefaultActor is recorded in the audit log when no actor is configured
const DefaultActor = "cadplug"

// Verification is a verification run together with its ledger ID
type Verification struct {
	ID         int64                            `json:"id"`
	FileDigest string                           `json:"file_digest,omitempty"`
	Result     *plugins.PackageValidationResult `json:"result"`
}

// RescanSummary describes one pass over every recorded archive
type RescanSummary struct {
	Checked int `json:"checked"`
	Missing int `json:"missing"`
	// Changed counts archives whose bytes or status differ from the previous record
	Changed int `json:"changed"`
	Invalid int `json:"invalid"`
}

// VerificationService verifies plugin packages and records each outcome in
// the ledger and in metrics
type VerificationService struct {
	verifier    *plugins.Verifier
	ledger      *plugins.Ledger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	actor       string
	logger      *logrus.Logger
}

// ServiceOption configures a VerificationService
type ServiceOption func(*VerificationService)

// WithMetrics records Prometheus metrics for every verification
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *VerificationService) { s.metrics = m }
}

// WithOTelMetrics records OpenTelemetry metrics for every verification and
// ledger write
func WithOTelMetrics(m *observability.OTelMetrics) ServiceOption {
	return func(s *VerificationService) { s.otelMetrics = m }
}

// WithActor sets the default actor written to the audit log
func WithActor(actor string) ServiceOption {
	return func(s *VerificationService) {
		if actor != "" {
			s.actor = actor
		}
	}
}

// NewVerificationService creates a service over verifier and ledger
func NewVerificationService(verifier *plugins.Verifier, ledger *plugins.Ledger, logger *logrus.Logger, opts ...ServiceOption) *VerificationService {
	if logger == nil {
		logger = logrus.New()
	}
	s := &VerificationService{
		verifier: verifier,
		ledger:   ledger,
		actor:    DefaultActor,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify validates target and records the result. An invalid package is not
// an error; err is only returned when target cannot be read or the ledger
// write fails. actor overrides the configured actor when non-empty.
func (s *VerificationService) Verify(ctx context.Context, target, actor string) (*Verification, error) {
	result, err := s.verifier.Validate(ctx, target)
	if err != nil {
		return nil, err
	}
	s.observe(ctx, result)

	var digest string
	if result.Mode == plugins.ModeArchive {
		digest, err = plugins.FileDigest(target)
		if err != nil {
			return nil, fmt.Errorf("failed to digest %s: %w", target, err)
		}
	}

	if actor == "" {
		actor = s.actor
	}
	id, err := s.ledger.Record(ctx, result, digest, actor)
	if s.otelMetrics != nil {
		s.otelMetrics.RecordLedgerWrite(ctx, err)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"verification_id": id,
		"path":            target,
		"valid":           result.Valid,
		"stage":           result.Stage,
	}).Info("Verified plugin package")

	return &Verification{ID: id, FileDigest: digest, Result: result}, nil
}

// Rescan re-verifies every archive the ledger has seen. Each archive is
// compared with its previous record so packages modified at rest are
// reported. A missing archive is counted and skipped.
func (s *VerificationService) Rescan(ctx context.Context) (RescanSummary, error) {
	var summary RescanSummary

	paths, err := s.ledger.Paths(ctx)
	if err != nil {
		return summary, err
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		previous, err := s.ledger.LatestByPath(ctx, p)
		if err != nil {
			return summary, err
		}

		v, err := s.Verify(ctx, p, "")
		if errors.Is(err, fs.ErrNotExist) {
			summary.Missing++
			s.logger.WithField("path", p).Warn("Recorded archive no longer exists")
			continue
		}
		if err != nil {
			return summary, err
		}

		summary.Checked++
		if !v.Result.Valid {
			summary.Invalid++
		}
		if changed(previous, v) {
			summary.Changed++
			s.logger.WithFields(logrus.Fields{
				"path":            p,
				"previous_status": previous.Status,
				"previous_digest": previous.FileDigest,
				"digest":          v.FileDigest,
				"valid":           v.Result.Valid,
			}).Warn("Archive changed since its last verification")
		}
	}

	if s.otelMetrics != nil {
		s.otelMetrics.RecordRescan(ctx, len(paths))
	}
	return summary, nil
}

func changed(previous *plugins.VerificationRecord, current *Verification) bool {
	status := plugins.StatusInvalid
	if current.Result.Valid {
		status = plugins.StatusValid
	}
	return previous.FileDigest != current.FileDigest || previous.Status != status
}

func (s *VerificationService) observe(ctx context.Context, result *plugins.PackageValidationResult) {
	if s.metrics != nil {
		s.metrics.RecordVerification(result.Mode, result.Valid, string(result.Stage), result.Duration)
	}
	if s.otelMetrics != nil {
		s.otelMetrics.RecordVerification(ctx, result.Mode, result.Valid, result.Duration)
	}
}
