package verify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
)

// #region claim-patterns

// claimPatterns maps claim types to the event-type keywords that would
// evidence them. A claim type with no entry expects no evidence.
var claimPatterns = map[string][]string{
	"uncertainty":   {"error", "retry", "fallback", "timeout", "unknown"},
	"memory":        {"memory_store", "memory_retrieve", "recall", "memory_prune"},
	"learning":      {"pattern_learned", "feedback", "adaptation", "candidate"},
	"action":        {"tool_call", "action_executed", "response_sent"},
	"planning":      {"planning", "decision", "inference"},
	"introspection": {"introspection", "self_assessment", "heartbeat"},
}

// #endregion claim-patterns

// #region grounder

// Grounder checks a claim against recent event-log evidence.
type Grounder struct {
	events *eventlog.Store
	log    *zap.SugaredLogger
	config Config

	now func() time.Time
}

// NewGrounder creates a grounder over the given event log.
func NewGrounder(events *eventlog.Store, log *zap.SugaredLogger, config Config) *Grounder {
	return &Grounder{events: events, log: log, config: config, now: time.Now}
}

// #endregion grounder

// #region ground-claim

// GroundClaim scores recent events against the claim and derives a
// grounding status plus confidence modifier. Event-log errors degrade to
// NO_EVIDENCE_EXPECTED (neutral) rather than failing the pipeline.
func (g *Grounder) GroundClaim(ctx context.Context, tenant, claimText, claimType string) GroundingResult {
	patterns, known := claimPatterns[claimType]
	if !known {
		return GroundingResult{Status: NoEvidenceExpected, Modifier: 1.0}
	}

	since := g.now().Add(-g.config.EvidenceWindow)
	events, err := g.events.Query(ctx, tenant, since, "", g.config.MaxEvidence)
	if err != nil {
		g.log.Warnw("grounding query failed, degrading to neutral", "tenant", tenant, "error", err)
		return GroundingResult{Status: NoEvidenceExpected, Modifier: 1.0}
	}

	claimWords := wordSet(claimText)
	var evidence []ScoredEvidence
	for _, ev := range events {
		if !matchesAny(ev.Type, patterns) {
			continue
		}
		rel := g.scoreRelevance(ev, claimType, claimWords)
		evidence = append(evidence, ScoredEvidence{
			EventType: ev.Type,
			Relevance: rel,
			At:        ev.CreatedAt,
		})
	}

	return g.classify(evidence)
}

// scoreRelevance computes one event's relevance to the claim:
// base 0.3, +0.3 when the event type names the claim type, up to +0.3 for
// word overlap with the claim text, plus a small recency boost.
func (g *Grounder) scoreRelevance(ev eventlog.Event, claimType string, claimWords map[string]struct{}) float64 {
	rel := 0.3
	if strings.Contains(strings.ToLower(ev.Type), strings.ToLower(claimType)) {
		rel += 0.3
	}

	evWords := wordSet(ev.Type + " " + flattenPayload(ev.Payload))
	if len(claimWords) > 0 {
		shared := 0
		for w := range claimWords {
			if _, ok := evWords[w]; ok {
				shared++
			}
		}
		rel += 0.3 * float64(shared) / float64(len(claimWords))
	}

	age := g.now().Sub(ev.CreatedAt)
	if age < g.config.EvidenceWindow {
		rel += 0.1 * (1 - age.Seconds()/g.config.EvidenceWindow.Seconds())
	}
	return rel
}

// classify derives status and modifier from the scored evidence.
func (g *Grounder) classify(evidence []ScoredEvidence) GroundingResult {
	var passing []ScoredEvidence
	strong := false
	var relSum float64
	for _, ev := range evidence {
		if ev.Relevance >= g.config.RelevanceThreshold {
			passing = append(passing, ev)
			relSum += ev.Relevance
		}
		if ev.Relevance >= g.config.StrongRelevance {
			strong = true
		}
	}

	switch {
	case strong:
		mean := relSum / float64(len(passing))
		modifier := 1.0 + 0.2*mean
		if modifier > 1.2 {
			modifier = 1.2
		}
		return GroundingResult{
			Status:        FullyGrounded,
			Modifier:      modifier,
			MeanRelevance: mean,
			Evidence:      passing,
		}
	case len(passing) > 0:
		return GroundingResult{
			Status:        PartiallyGrounded,
			Modifier:      0.9,
			MeanRelevance: relSum / float64(len(passing)),
			Evidence:      passing,
		}
	default:
		return GroundingResult{Status: Ungrounded, Modifier: 0.6}
	}
}

// #endregion ground-claim

// #region helpers

func matchesAny(eventType string, patterns []string) bool {
	lower := strings.ToLower(eventType)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// wordSet lowercases and keeps words longer than 2 runes.
func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()[]_")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

func flattenPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	var sb strings.Builder
	for k, v := range payload {
		sb.WriteString(k)
		sb.WriteByte(' ')
		if s, ok := v.(string); ok {
			sb.WriteString(s)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

// #endregion helpers
