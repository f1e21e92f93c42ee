package verify

import "time"

// #region grounding-status

// GroundingStatus classifies how well the event log supports a claim.
type GroundingStatus string

const (
	FullyGrounded      GroundingStatus = "FULLY_GROUNDED"
	PartiallyGrounded  GroundingStatus = "PARTIALLY_GROUNDED"
	Ungrounded         GroundingStatus = "UNGROUNDED"
	NoEvidenceExpected GroundingStatus = "NO_EVIDENCE_EXPECTED"
)

// #endregion grounding-status

// #region phase-results

// ScoredEvidence is one event with its relevance to the claim.
type ScoredEvidence struct {
	EventType string
	Relevance float64
	At        time.Time
}

// GroundingResult is the output of the grounding phase.
type GroundingResult struct {
	Status        GroundingStatus
	Modifier      float64
	MeanRelevance float64
	Evidence      []ScoredEvidence
}

// CalibrationResult is the output of the calibration phase.
type CalibrationResult struct {
	Raw               float64
	Calibrated        float64
	PredictionSetSize int
	Temperature       float64
}

// ConsistencyResult is the output of the consistency phase.
type ConsistencyResult struct {
	Agreement    float64
	Score        float64
	Samples      int
	MajoritySize int
	UsedVerifier bool
}

// ShadowResult is the output of the structural-correspondence phase.
type ShadowResult struct {
	ClaimedState  string
	DetectedState string
	Confidence    float64
	Similarity    float64
	Match         bool
	Verified      bool
	UsedFallback  bool
}

// #endregion phase-results

// #region claim

// Claim is the complete verification record for one self-descriptive
// claim. Built fresh per request; lifetime is one pipeline run.
type Claim struct {
	ID        string
	Tenant    string
	ClaimText string
	ClaimType string

	GroundingStatus    GroundingStatus
	ConfidenceModifier float64

	RawConfidence        float64
	CalibratedConfidence float64
	PredictionSetSize    int

	ConsistencyScore float64

	ShadowVerified           bool
	StructuralCorrespondence bool

	VerifiedConfidence float64
	PhasesPassed       int // out of 4
	VerifiedAt         time.Time
}

// #endregion claim

// #region config

// Config holds the pipeline thresholds.
type Config struct {
	// Grounding
	EvidenceWindow     time.Duration
	MaxEvidence        int
	RelevanceThreshold float64 // a passing event
	StrongRelevance    float64 // a fully grounding event

	// Calibration
	Temperature           float64
	RecalibrateEvery      int
	ReliabilityErrorLimit float64

	// Consistency
	Samples            int
	SampleTemperatures []float32
	ClusterThreshold   float64
	VerifierEnabled    bool

	// Shadow correspondence
	ProbeAccuracy          float64
	ProbeAccuracyThreshold float64
	PatternFallbackBelow   float64

	// Final clamp
	MinConfidence float64
	MaxConfidence float64
}

// DefaultConfig returns the standard pipeline thresholds.
func DefaultConfig() Config {
	return Config{
		EvidenceWindow:         15 * time.Minute,
		MaxEvidence:            100,
		RelevanceThreshold:     0.5,
		StrongRelevance:        0.7,
		Temperature:            1.5,
		RecalibrateEvery:       100,
		ReliabilityErrorLimit:  0.1,
		Samples:                5,
		SampleTemperatures:     []float32{0.3, 0.6, 0.9, 1.2, 1.5},
		ClusterThreshold:       0.7,
		VerifierEnabled:        true,
		ProbeAccuracy:          0.85,
		ProbeAccuracyThreshold: 0.7,
		PatternFallbackBelow:   0.7,
		MinConfidence:          0.05,
		MaxConfidence:          0.95,
	}
}

// #endregion config
