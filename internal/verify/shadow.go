package verify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/model"
)

// #region state-patterns

// statePatterns maps cognitive-state labels to keyword cues.
var statePatterns = map[string][]string{
	"uncertain": {"not sure", "uncertain", "unsure", "might be", "unclear", "doubt"},
	"confused":  {"confused", "lost", "don't understand", "contradict", "inconsistent"},
	"anxious":   {"worried", "anxious", "overload", "pressure", "stressed", "alarm"},
	"confident": {"confident", "certain", "sure that", "definitely", "clearly"},
	"focused":   {"focused", "deliberate", "on track", "working through", "methodical"},
	"neutral":   {"observing", "idle", "waiting", "steady", "nominal", "routine"},
}

// stateClass groups labels into coarse equivalence classes. Two different
// labels in the same class still count as a structural match.
var stateClass = map[string]string{
	"uncertain": "negative",
	"confused":  "negative",
	"anxious":   "negative",
	"confident": "positive",
	"focused":   "positive",
	"neutral":   "neutral",
}

// knownStates lists the labels the fallback classifier may return.
var knownStates = []string{"uncertain", "confused", "anxious", "confident", "focused", "neutral"}

// #endregion state-patterns

// #region shadow

// Shadow checks structural correspondence: agreement between the state a
// claim asserts and the state independently inferred from its context.
type Shadow struct {
	gen    model.Generator
	log    *zap.SugaredLogger
	config Config
}

// NewShadow creates a structural-correspondence checker. gen may be nil;
// the pattern fast path then stands alone.
func NewShadow(gen model.Generator, log *zap.SugaredLogger, config Config) *Shadow {
	return &Shadow{gen: gen, log: log, config: config}
}

// #endregion shadow

// #region check

// Check detects the cognitive state of the supporting context (pattern
// match first, model fallback when the pattern confidence is weak), parses
// the claimed state from the claim text, and compares the two.
func (s *Shadow) Check(ctx context.Context, claimText, contextText string) ShadowResult {
	detected, confidence := detectState(contextText, s.config.ProbeAccuracy)
	usedFallback := false

	if confidence < s.config.PatternFallbackBelow && s.gen != nil {
		if label, ok := s.classifyFallback(ctx, contextText); ok {
			detected = label
			confidence = s.config.ProbeAccuracy
			usedFallback = true
		}
	}

	claimed, _ := detectState(claimText, s.config.ProbeAccuracy)

	similarity := stateSimilarity(claimed, detected)
	match := similarity >= 0.7

	return ShadowResult{
		ClaimedState:  claimed,
		DetectedState: detected,
		Confidence:    confidence,
		Similarity:    similarity,
		Match:         match,
		Verified:      match && confidence >= s.config.ProbeAccuracyThreshold,
		UsedFallback:  usedFallback,
	}
}

// classifyFallback asks the model for a single-shot state label.
func (s *Shadow) classifyFallback(ctx context.Context, contextText string) (string, bool) {
	prompt := "Classify the cognitive state expressed in the following text as exactly one of: " +
		strings.Join(knownStates, ", ") + ". Respond with only the label.\n\n" + contextText

	text, err := s.gen.Generate(ctx, prompt, model.SamplingParams{Temperature: 0.1, MaxTokens: 4})
	if err != nil {
		s.log.Debugw("shadow classification fallback failed", "error", err)
		return "", false
	}
	label := strings.ToLower(strings.TrimSpace(text))
	for _, known := range knownStates {
		if label == known {
			return known, true
		}
	}
	return "", false
}

// #endregion check

// #region detection

// detectState pattern-matches text against the state keyword table. The
// confidence is min(0.9, matchRatio * probeAccuracy) with a 0.3 floor.
func detectState(text string, probeAccuracy float64) (string, float64) {
	lower := strings.ToLower(text)

	best := "neutral"
	bestMatches := 0
	bestTotal := len(statePatterns["neutral"])
	for state, patterns := range statePatterns {
		matches := 0
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				matches++
			}
		}
		if matches > bestMatches {
			best = state
			bestMatches = matches
			bestTotal = len(patterns)
		}
	}

	confidence := float64(bestMatches) / float64(bestTotal) * probeAccuracy
	if confidence > 0.9 {
		confidence = 0.9
	}
	if confidence < 0.3 {
		confidence = 0.3
	}
	return best, confidence
}

// stateSimilarity is 1.0 for identical labels, 0.7 for labels in the same
// equivalence class, 0.3 otherwise.
func stateSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if stateClass[a] != "" && stateClass[a] == stateClass[b] {
		return 0.7
	}
	return 0.3
}

// #endregion detection
