// Package verify implements the four-phase claim-verification pipeline:
// grounding, calibration, consistency, and structural correspondence. A
// raw self-descriptive claim goes in; a calibrated, evidence-backed
// confidence score comes out. No phase failure aborts a run — each phase
// degrades to its own fallback and the pipeline always returns a complete
// claim record.
package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/metrics"
)

// #region pipeline

// Pipeline composes the four verification phases.
type Pipeline struct {
	grounder   *Grounder
	calibrator *Calibrator
	checker    *Checker
	shadow     *Shadow
	log        *zap.SugaredLogger
	metrics    *metrics.Metrics
	config     Config
}

// NewPipeline wires the four phases together.
func NewPipeline(grounder *Grounder, calibrator *Calibrator, checker *Checker, shadow *Shadow,
	log *zap.SugaredLogger, m *metrics.Metrics, config Config) *Pipeline {
	return &Pipeline{
		grounder:   grounder,
		calibrator: calibrator,
		checker:    checker,
		shadow:     shadow,
		log:        log,
		metrics:    m,
		config:     config,
	}
}

// #endregion pipeline

// #region phase-accessors

// GroundClaim runs only the grounding phase.
func (p *Pipeline) GroundClaim(ctx context.Context, tenant, claimText, claimType string) GroundingResult {
	return p.grounder.GroundClaim(ctx, tenant, claimText, claimType)
}

// CalibrateConfidence runs only the calibration phase.
func (p *Pipeline) CalibrateConfidence(claimType string, raw float64) CalibrationResult {
	return p.calibrator.CalibrateConfidence(claimType, raw)
}

// CheckConsistency runs only the consistency phase.
func (p *Pipeline) CheckConsistency(ctx context.Context, prompt string) ConsistencyResult {
	return p.checker.CheckConsistency(ctx, prompt)
}

// RecordFeedback forwards verification outcomes to the calibrator.
func (p *Pipeline) RecordFeedback(ctx context.Context, tenant string, raw, calibrated float64, wasCorrect bool) error {
	return p.calibrator.RecordFeedback(ctx, tenant, raw, calibrated, wasCorrect)
}

// #endregion phase-accessors

// #region verify-claim

// VerifyClaim runs all four phases in order and combines them into the
// final verified confidence, clamped to [MinConfidence, MaxConfidence].
func (p *Pipeline) VerifyClaim(ctx context.Context, tenant, claimText, claimType, contextText string, rawConfidence float64) (claim Claim) {
	claim = Claim{
		ID:            uuid.New().String(),
		Tenant:        tenant,
		ClaimText:     claimText,
		ClaimType:     claimType,
		RawConfidence: rawConfidence,
		VerifiedAt:    time.Now().UTC(),
	}

	// A panicking phase must not abort verification; fall back to the
	// lowest reportable confidence instead.
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("verification phase panicked, returning fallback claim",
				"tenant", tenant, "claim_type", claimType, "panic", r)
			claim.GroundingStatus = Ungrounded
			claim.VerifiedConfidence = p.config.MinConfidence
			claim.PhasesPassed = 0
		}
	}()

	// Phase 1: grounding
	grounding := p.grounder.GroundClaim(ctx, tenant, claimText, claimType)
	claim.GroundingStatus = grounding.Status
	claim.ConfidenceModifier = grounding.Modifier

	// Phase 2: calibration (always counts as passed)
	calibration := p.calibrator.CalibrateConfidence(claimType, rawConfidence)
	claim.CalibratedConfidence = calibration.Calibrated
	claim.PredictionSetSize = calibration.PredictionSetSize

	// Phase 3: consistency
	consistency := p.checker.CheckConsistency(ctx, claimText)
	claim.ConsistencyScore = consistency.Score

	// Phase 4: structural correspondence
	shadow := p.shadow.Check(ctx, claimText, contextText)
	claim.ShadowVerified = shadow.Verified
	claim.StructuralCorrespondence = shadow.Match

	// Combine
	structural := 0.7
	if shadow.Match {
		structural = 1.2
	}
	verified := calibration.Calibrated *
		grounding.Modifier *
		(0.5 + 0.5*consistency.Score) *
		structural
	claim.VerifiedConfidence = clampTo(verified, p.config.MinConfidence, p.config.MaxConfidence)

	claim.PhasesPassed = countPhases(grounding, consistency, shadow)

	p.metrics.VerificationsTotal.WithLabelValues(tenant, string(grounding.Status)).Inc()
	p.log.Infow("claim verified",
		"tenant", tenant,
		"claim_type", claimType,
		"grounding", grounding.Status,
		"confidence", claim.VerifiedConfidence,
		"phases", claim.PhasesPassed)
	return claim
}

// countPhases tallies passing phases out of 4: grounding passes when at
// least partially grounded, calibration always passes, consistency passes
// above 0.7, shadow passes when verified.
func countPhases(grounding GroundingResult, consistency ConsistencyResult, shadow ShadowResult) int {
	passed := 1 // calibration
	if grounding.Status == FullyGrounded || grounding.Status == PartiallyGrounded {
		passed++
	}
	if consistency.Score > 0.7 {
		passed++
	}
	if shadow.Verified {
		passed++
	}
	return passed
}

// #endregion verify-claim
