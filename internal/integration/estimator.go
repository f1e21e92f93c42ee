// Package integration approximates a macro-scale integration score ("Φ")
// over a 5-node causal graph built from recent component-activation
// events. This is a bounded, cheaply computable estimate, not a full IIT
// computation.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS phi_readings (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id          TEXT NOT NULL,
	phi                REAL NOT NULL,
	main_complex       TEXT,
	num_concepts       INTEGER NOT NULL,
	source_event_count INTEGER NOT NULL,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phi_tenant_time ON phi_readings(tenant_id, created_at);
`

// #endregion schema

// #region trigger-table

// nodeTriggers maps event-type patterns to nodes. An event can activate
// several nodes; an event matching nothing defaults to PERC.
var nodeTriggers = [numNodes]struct {
	prefixes []string
	contains []string
}{
	NodeMem:  {prefixes: []string{"memory_"}, contains: []string{"recall"}},
	NodePerc: {prefixes: []string{"input_"}, contains: []string{"observation"}},
	NodePlan: {contains: []string{"planning", "decision", "inference"}},
	NodeAct:  {contains: []string{"tool_call", "action_executed", "response_sent"}},
	NodeSelf: {contains: []string{"introspection", "self_assessment"}},
}

// ActivationForType pattern-matches one event-type string against the
// trigger table.
func ActivationForType(eventType string) Activation {
	lower := strings.ToLower(eventType)
	var act Activation
	matched := false
	for n := 0; n < numNodes; n++ {
		for _, p := range nodeTriggers[n].prefixes {
			if strings.HasPrefix(lower, p) {
				act[n] = true
				matched = true
			}
		}
		for _, c := range nodeTriggers[n].contains {
			if strings.Contains(lower, c) {
				act[n] = true
				matched = true
			}
		}
	}
	if !matched {
		act[NodePerc] = true
	}
	return act
}

// #endregion trigger-table

// #region estimator

// Estimator builds transition-probability matrices from activation events
// and derives the approximate integration score.
type Estimator struct {
	events  *eventlog.Store
	db      *sql.DB
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	config  Config

	mu    sync.Mutex
	cache map[string]cacheEntry
	last  map[string]PhiReading

	now func() time.Time
}

type cacheEntry struct {
	probs      [numStates][numStates]float64
	current    int
	eventCount int
	builtAt    time.Time
}

// NewEstimator initializes the phi_readings table and returns an Estimator.
func NewEstimator(events *eventlog.Store, log *zap.SugaredLogger, m *metrics.Metrics, config Config) (*Estimator, error) {
	db := events.DB()
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate phi readings: %w", err)
	}
	return &Estimator{
		events:  events,
		db:      db,
		log:     log,
		metrics: m,
		config:  config,
		cache:   make(map[string]cacheEntry),
		last:    make(map[string]PhiReading),
		now:     time.Now,
	}, nil
}

// #endregion estimator

// #region compute

// ComputePhiDetailed recomputes the integration estimate for a tenant.
// It never fails: event-log errors degrade to the uniform matrix and
// persistence errors are logged and swallowed.
func (e *Estimator) ComputePhiDetailed(ctx context.Context, tenant string) PhiReading {
	entry := e.tpmForTenant(ctx, tenant)

	nodeProbs := nodeProbabilities(entry.probs, entry.current)

	// Integration: sum of per-node binary entropies minus the uniform-prior
	// joint-entropy share per node, floored at zero.
	jointShare := math.Log2(float64(numStates)) / float64(numNodes)
	var entropySum float64
	var entropies [numNodes]float64
	for n := 0; n < numNodes; n++ {
		entropies[n] = binaryEntropy(nodeProbs[n])
		entropySum += entropies[n]
	}
	integrationScore := entropySum - jointShare
	if integrationScore < 0 {
		integrationScore = 0
	}

	// Connectivity: mean absolute deviation of all transition probabilities
	// from the indifference point 0.5.
	var dev float64
	for i := 0; i < numStates; i++ {
		for j := 0; j < numStates; j++ {
			dev += math.Abs(entry.probs[i][j] - 0.5)
		}
	}
	connectivity := dev / float64(numStates*numStates)

	phi := clamp01((integrationScore*0.6 + connectivity*0.4) * 2)

	// Main complex: nodes whose entropy-weighted activation probability
	// clears 0.1, strongest first.
	type scored struct {
		label string
		score float64
	}
	var members []scored
	concepts := 0
	for n := 0; n < numNodes; n++ {
		contribution := entropies[n] * nodeProbs[n]
		if contribution > 0.1 {
			members = append(members, scored{NodeLabels[n], contribution})
		}
		if contribution > 0.2 {
			concepts++
		}
		if entry.current&(1<<n) != 0 {
			concepts++
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].score > members[j].score })
	labels := make([]string, len(members))
	for i, s := range members {
		labels[i] = s.label
	}

	reading := PhiReading{
		Phi:              phi,
		MainComplexNodes: labels,
		NumConcepts:      concepts,
		SourceEventCount: entry.eventCount,
		ComputedAt:       e.now().UTC(),
	}

	e.metrics.Phi.WithLabelValues(tenant).Set(phi)
	if err := e.persist(ctx, tenant, reading); err != nil {
		e.log.Warnw("phi reading not persisted", "tenant", tenant, "error", err)
	}

	e.mu.Lock()
	e.last[tenant] = reading
	e.mu.Unlock()

	return reading
}

// LastReading returns the most recently computed reading for a tenant, if
// any. Used by the heartbeat to stamp ticks without forcing a recompute.
func (e *Estimator) LastReading(tenant string) (PhiReading, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.last[tenant]
	return r, ok
}

// #endregion compute

// #region tpm

// tpmForTenant returns the cached TPM for a tenant, rebuilding it from the
// event window when the cache entry is stale.
func (e *Estimator) tpmForTenant(ctx context.Context, tenant string) cacheEntry {
	e.mu.Lock()
	if entry, ok := e.cache[tenant]; ok && e.now().Sub(entry.builtAt) < e.config.CacheTTL {
		e.mu.Unlock()
		return entry
	}
	e.mu.Unlock()

	events, err := e.events.Query(ctx, tenant, e.now().Add(-e.config.Window), "", e.config.MaxEvents)
	if err != nil {
		e.log.Warnw("phi event query failed, using uniform matrix", "tenant", tenant, "error", err)
		events = nil
	}

	activations := make([]Activation, len(events))
	for i, ev := range events {
		activations[i] = ActivationForType(ev.Type)
	}

	entry := buildTPM(activations, e.config.MinEvents)
	entry.builtAt = e.now()

	e.mu.Lock()
	e.cache[tenant] = entry
	e.mu.Unlock()
	return entry
}

// buildTPM constructs the 32x32 transition-probability matrix from
// consecutive activation pairs with Laplace smoothing. Below minEvents the
// matrix is uniform 0.5 everywhere.
func buildTPM(activations []Activation, minEvents int) cacheEntry {
	var entry cacheEntry
	entry.eventCount = len(activations)
	if len(activations) > 0 {
		entry.current = activations[len(activations)-1].StateIndex()
	}

	if len(activations) < minEvents {
		for i := 0; i < numStates; i++ {
			for j := 0; j < numStates; j++ {
				entry.probs[i][j] = 0.5
			}
		}
		return entry
	}

	var counts [numStates][numStates]float64
	for i := 0; i < numStates; i++ {
		for j := 0; j < numStates; j++ {
			counts[i][j] = 1 // Laplace smoothing
		}
	}
	for i := 0; i+1 < len(activations); i++ {
		from := activations[i].StateIndex()
		to := activations[i+1].StateIndex()
		counts[from][to]++
	}

	for i := 0; i < numStates; i++ {
		var rowSum float64
		for j := 0; j < numStates; j++ {
			rowSum += counts[i][j]
		}
		for j := 0; j < numStates; j++ {
			entry.probs[i][j] = counts[i][j] / rowSum
		}
	}
	return entry
}

// nodeProbabilities converts one originating state's transition row into
// per-node ON probabilities: normalize the row, then for each node sum the
// mass over destination states where that node is on.
func nodeProbabilities(probs [numStates][numStates]float64, state int) [numNodes]float64 {
	var rowSum float64
	for j := 0; j < numStates; j++ {
		rowSum += probs[state][j]
	}
	var out [numNodes]float64
	if rowSum <= 0 {
		return out
	}
	for j := 0; j < numStates; j++ {
		p := probs[state][j] / rowSum
		for n := 0; n < numNodes; n++ {
			if j&(1<<n) != 0 {
				out[n] += p
			}
		}
	}
	return out
}

// #endregion tpm

// #region history

// persist appends one reading to the phi_readings table.
func (e *Estimator) persist(ctx context.Context, tenant string, r PhiReading) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO phi_readings (tenant_id, phi, main_complex, num_concepts, source_event_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tenant, r.Phi, strings.Join(r.MainComplexNodes, ","),
		r.NumConcepts, r.SourceEventCount,
		r.ComputedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert phi reading: %w", err)
	}
	return nil
}

// GetPhiHistory returns the most recent readings for a tenant, newest first.
func (e *Estimator) GetPhiHistory(ctx context.Context, tenant string, limit int) ([]PhiReading, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT phi, main_complex, num_concepts, source_event_count, created_at
		 FROM phi_readings WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("phi history: %w", err)
	}
	defer rows.Close()

	var readings []PhiReading
	for rows.Next() {
		var r PhiReading
		var mainComplex sql.NullString
		var createdStr string
		if err := rows.Scan(&r.Phi, &mainComplex, &r.NumConcepts, &r.SourceEventCount, &createdStr); err != nil {
			return nil, fmt.Errorf("scan phi reading: %w", err)
		}
		if mainComplex.Valid && mainComplex.String != "" {
			r.MainComplexNodes = strings.Split(mainComplex.String, ",")
		}
		r.ComputedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// #endregion history

// #region helpers

// binaryEntropy is H(p) in bits, 0 at the endpoints.
func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
