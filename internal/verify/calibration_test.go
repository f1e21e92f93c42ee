package verify

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/Zynapses/Radiant-sub008/internal/config"
	"github.com/Zynapses/Radiant-sub008/internal/logging"
)

func newTestCalibrator(t *testing.T, conf Config) (*Calibrator, *config.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfgStore, err := config.NewStore(db)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	c, err := NewCalibrator(db, cfgStore, logging.Nop(), conf)
	if err != nil {
		t.Fatalf("NewCalibrator: %v", err)
	}
	return c, cfgStore
}

func TestCalibrationShrinksOverconfidence(t *testing.T) {
	c, _ := newTestCalibrator(t, DefaultConfig())

	res := c.CalibrateConfidence("memory", 0.9)
	if res.Calibrated >= res.Raw {
		t.Fatalf("temperature 1.5 should flatten 0.9, got %f", res.Calibrated)
	}
	if res.Calibrated < 0.7 {
		t.Fatalf("flattening should be mild, got %f", res.Calibrated)
	}
	if res.PredictionSetSize != 1 {
		t.Fatalf("high confidence should give set size 1, got %d", res.PredictionSetSize)
	}
}

func TestCalibrationLowConfidenceWideSet(t *testing.T) {
	c, _ := newTestCalibrator(t, DefaultConfig())

	res := c.CalibrateConfidence("memory", 0.1)
	if res.PredictionSetSize != 5 {
		t.Fatalf("low confidence should give set size 5, got %d", res.PredictionSetSize)
	}
	if res.Calibrated > 0.15 {
		t.Fatalf("low confidence should stay low, got %f", res.Calibrated)
	}
}

func TestCalibrationMonotone(t *testing.T) {
	c, _ := newTestCalibrator(t, DefaultConfig())

	prev := 0.0
	for _, raw := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		got := c.CalibrateConfidence("memory", raw).Calibrated
		if got < prev {
			t.Fatalf("calibration not monotone at raw=%f: %f < %f", raw, got, prev)
		}
		prev = got
	}
}

func TestCalibrationClampsToBounds(t *testing.T) {
	conf := DefaultConfig()
	c, _ := newTestCalibrator(t, conf)

	low := c.CalibrateConfidence("introspection", 0.0)
	if low.Calibrated < conf.MinConfidence {
		t.Fatalf("below MinConfidence: %f", low.Calibrated)
	}
	high := c.CalibrateConfidence("action", 1.0)
	if high.Calibrated > conf.MaxConfidence {
		t.Fatalf("above MaxConfidence: %f", high.Calibrated)
	}
}

func TestCalibrationUnknownTypePassesThroughPlatt(t *testing.T) {
	c, _ := newTestCalibrator(t, DefaultConfig())

	known := c.CalibrateConfidence("memory", 0.8).Calibrated
	unknown := c.CalibrateConfidence("novel_type", 0.8).Calibrated
	// memory has the identity Platt row, so an unknown type matches it.
	if known != unknown {
		t.Fatalf("identity rescale mismatch: %f vs %f", known, unknown)
	}
}

func TestRecordFeedbackInflatesTemperature(t *testing.T) {
	conf := DefaultConfig()
	conf.RecalibrateEvery = 3
	c, cfgStore := newTestCalibrator(t, conf)
	ctx := context.Background()

	before := c.Temperature()

	// Confident but consistently wrong: reliability error is large.
	for i := 0; i < 3; i++ {
		if err := c.RecordFeedback(ctx, "default", 0.95, 0.9, false); err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}

	after := c.Temperature()
	if after <= before {
		t.Fatalf("miscalibration should inflate temperature: %f -> %f", before, after)
	}

	// The inflated temperature is persisted for the next process.
	persisted := cfgStore.Float(ctx, "default", temperatureKey, 0)
	if persisted != after {
		t.Fatalf("temperature not persisted: %f vs %f", persisted, after)
	}
}

func TestWellCalibratedFeedbackKeepsTemperature(t *testing.T) {
	conf := DefaultConfig()
	conf.RecalibrateEvery = 4
	c, _ := newTestCalibrator(t, conf)
	ctx := context.Background()

	before := c.Temperature()

	// Half right at 0.5 confidence: reliability error near zero.
	for i := 0; i < 4; i++ {
		if err := c.RecordFeedback(ctx, "default", 0.5, 0.5, i%2 == 0); err != nil {
			t.Fatalf("RecordFeedback: %v", err)
		}
	}
	if got := c.Temperature(); got != before {
		t.Fatalf("well-calibrated feedback should not change temperature: %f -> %f", before, got)
	}
}

func TestPersistedTemperatureLoadsOnStart(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfgStore, err := config.NewStore(db)
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	if err := cfgStore.Set(context.Background(), "default", temperatureKey, "2.25"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	c, err := NewCalibrator(db, cfgStore, logging.Nop(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalibrator: %v", err)
	}
	if c.Temperature() != 2.25 {
		t.Fatalf("expected persisted temperature 2.25, got %f", c.Temperature())
	}
}
