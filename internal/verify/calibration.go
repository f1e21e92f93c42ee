package verify

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/config"
)

// #region schema
const calibrationSchema = `
CREATE TABLE IF NOT EXISTS calibration_samples (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id   TEXT NOT NULL,
	raw         REAL NOT NULL,
	calibrated  REAL NOT NULL,
	was_correct INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibration_tenant ON calibration_samples(tenant_id, id);
`

// #endregion schema

// #region platt-table

// plattTable holds the per-claim-type linear rescale (slope, intercept).
// Types without an entry pass through unchanged.
var plattTable = map[string][2]float64{
	"uncertainty":   {0.90, 0.05},
	"memory":        {1.00, 0.00},
	"learning":      {0.95, 0.00},
	"action":        {1.10, -0.05},
	"planning":      {1.00, 0.00},
	"introspection": {0.85, 0.05},
}

// conformalBuckets is the monotone quantile table mapping nonconformity
// (1 - confidence) to a prediction-set size.
var conformalBuckets = []struct {
	maxNonconformity float64
	setSize          int
}{
	{0.2, 1},
	{0.4, 2},
	{0.6, 3},
	{0.8, 4},
	{1.0, 5},
}

// temperatureKey is the config-store key the adjusted temperature
// persists under so restarts keep a flattened calibration.
const temperatureKey = "verify.temperature"

// #endregion platt-table

// #region calibrator

// Calibrator converts raw confidence into a calibrated score and learns a
// temperature from accumulated feedback.
type Calibrator struct {
	db     *sql.DB
	cfg    *config.Store
	log    *zap.SugaredLogger
	config Config

	mu           sync.Mutex
	temperature  float64
	samplesSince int
}

// NewCalibrator initializes the calibration_samples table and loads the
// persisted temperature for the tenant-independent default.
func NewCalibrator(db *sql.DB, cfg *config.Store, log *zap.SugaredLogger, conf Config) (*Calibrator, error) {
	if _, err := db.Exec(calibrationSchema); err != nil {
		return nil, fmt.Errorf("migrate calibration: %w", err)
	}
	c := &Calibrator{db: db, cfg: cfg, log: log, config: conf}
	c.temperature = cfg.Float(context.Background(), "default", temperatureKey, conf.Temperature)
	return c, nil
}

// #endregion calibrator

// #region calibrate

// CalibrateConfidence runs temperature scaling, the Platt-style linear
// rescale for the claim type, and the conformal set-size discount.
// Output is clamped to [MinConfidence, MaxConfidence].
func (c *Calibrator) CalibrateConfidence(claimType string, raw float64) CalibrationResult {
	c.mu.Lock()
	temp := c.temperature
	c.mu.Unlock()

	p := clampProb(raw)

	// (a) temperature scaling in logit space
	logit := math.Log(p / (1 - p))
	p = 1 / (1 + math.Exp(-logit/temp))

	// (b) Platt-style linear rescale
	if platt, ok := plattTable[claimType]; ok {
		p = platt[0]*p + platt[1]
	}
	p = clampProb(p)

	// (c) conformal set-size discount
	nonconformity := 1 - p
	setSize := conformalBuckets[len(conformalBuckets)-1].setSize
	for _, b := range conformalBuckets {
		if nonconformity <= b.maxNonconformity {
			setSize = b.setSize
			break
		}
	}
	calibrated := p / math.Sqrt(float64(setSize))
	calibrated = clampTo(calibrated, c.config.MinConfidence, c.config.MaxConfidence)

	return CalibrationResult{
		Raw:               raw,
		Calibrated:        calibrated,
		PredictionSetSize: setSize,
		Temperature:       temp,
	}
}

// #endregion calibrate

// #region feedback

// RecordFeedback accumulates one (raw, calibrated, wasCorrect) sample.
// Every RecalibrateEvery samples the reliability-diagram error is
// recomputed; when it exceeds the limit the temperature is inflated 10%,
// flattening future confidence, and persisted.
func (c *Calibrator) RecordFeedback(ctx context.Context, tenant string, raw, calibrated float64, wasCorrect bool) error {
	correct := 0
	if wasCorrect {
		correct = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO calibration_samples (tenant_id, raw, calibrated, was_correct, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tenant, raw, calibrated, correct, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record calibration sample: %w", err)
	}

	c.mu.Lock()
	c.samplesSince++
	due := c.samplesSince >= c.config.RecalibrateEvery
	if due {
		c.samplesSince = 0
	}
	c.mu.Unlock()

	if due {
		c.recalibrate(ctx, tenant)
	}
	return nil
}

// recalibrate recomputes the reliability error over recent samples and
// inflates the temperature when miscalibrated.
func (c *Calibrator) recalibrate(ctx context.Context, tenant string) {
	relErr, err := c.reliabilityError(ctx, tenant)
	if err != nil {
		c.log.Warnw("reliability recompute failed", "error", err)
		return
	}
	if relErr <= c.config.ReliabilityErrorLimit {
		return
	}

	c.mu.Lock()
	c.temperature *= 1.1
	newTemp := c.temperature
	c.mu.Unlock()

	c.log.Infow("calibration temperature inflated",
		"reliability_error", relErr, "temperature", newTemp)
	if err := c.cfg.Set(ctx, "default", temperatureKey, strconv.FormatFloat(newTemp, 'f', -1, 64)); err != nil {
		c.log.Warnw("temperature not persisted", "error", err)
	}
}

// reliabilityError bins recent samples by calibrated confidence and
// returns the count-weighted mean |confidence - accuracy| across bins.
func (c *Calibrator) reliabilityError(ctx context.Context, tenant string) (float64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT calibrated, was_correct FROM calibration_samples
		 WHERE tenant_id = ? ORDER BY id DESC LIMIT 1000`, tenant)
	if err != nil {
		return 0, fmt.Errorf("load calibration samples: %w", err)
	}
	defer rows.Close()

	const bins = 10
	var confSum, correctSum [bins]float64
	var count [bins]int
	total := 0
	for rows.Next() {
		var calibrated float64
		var correct int
		if err := rows.Scan(&calibrated, &correct); err != nil {
			return 0, fmt.Errorf("scan calibration sample: %w", err)
		}
		bin := int(calibrated * bins)
		if bin >= bins {
			bin = bins - 1
		}
		confSum[bin] += calibrated
		correctSum[bin] += float64(correct)
		count[bin]++
		total++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	var weighted float64
	for b := 0; b < bins; b++ {
		if count[b] == 0 {
			continue
		}
		meanConf := confSum[b] / float64(count[b])
		accuracy := correctSum[b] / float64(count[b])
		weighted += math.Abs(meanConf-accuracy) * float64(count[b])
	}
	return weighted / float64(total), nil
}

// Temperature returns the current scaling temperature.
func (c *Calibrator) Temperature() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.temperature
}

// #endregion feedback

// #region helpers

// clampProb keeps p strictly inside (0, 1) so the logit is finite.
func clampProb(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion helpers
