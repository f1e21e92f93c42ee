package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/Zynapses/Radiant-sub008/internal/logging"
)

func TestShadowIdenticalStateMatches(t *testing.T) {
	s := NewShadow(nil, logging.Nop(), DefaultConfig())

	res := s.Check(context.Background(),
		"I am certain and confident about this",
		"clearly and definitely confident, certain, sure that it works")
	if res.ClaimedState != "confident" || res.DetectedState != "confident" {
		t.Fatalf("expected confident/confident, got %s/%s", res.ClaimedState, res.DetectedState)
	}
	if res.Similarity != 1.0 {
		t.Fatalf("identical labels should score 1.0, got %f", res.Similarity)
	}
	if !res.Match {
		t.Fatal("expected structural match")
	}
	if !res.Verified {
		t.Fatalf("strong pattern confidence should verify, got confidence %f", res.Confidence)
	}
}

func TestShadowSameClassMatches(t *testing.T) {
	s := NewShadow(nil, logging.Nop(), DefaultConfig())

	// Claim reads uncertain, context reads confused: both negative-class.
	res := s.Check(context.Background(),
		"I am not sure and uncertain, unsure, might be wrong, unclear, in doubt",
		"the logs are confused and lost, they contradict and seem inconsistent, I don't understand")
	if res.ClaimedState != "uncertain" {
		t.Fatalf("expected claimed uncertain, got %s", res.ClaimedState)
	}
	if res.DetectedState != "confused" {
		t.Fatalf("expected detected confused, got %s", res.DetectedState)
	}
	if res.Similarity != 0.7 {
		t.Fatalf("same-class labels should score 0.7, got %f", res.Similarity)
	}
	if !res.Match {
		t.Fatal("same-class labels should match")
	}
}

func TestShadowMismatch(t *testing.T) {
	s := NewShadow(nil, logging.Nop(), DefaultConfig())

	res := s.Check(context.Background(),
		"I am certain, confident, clearly and definitely sure that this holds",
		"I am worried and anxious, stressed, under pressure, overload triggered the alarm")
	if res.ClaimedState != "confident" || res.DetectedState != "anxious" {
		t.Fatalf("expected confident/anxious, got %s/%s", res.ClaimedState, res.DetectedState)
	}
	if res.Similarity != 0.3 {
		t.Fatalf("cross-class labels should score 0.3, got %f", res.Similarity)
	}
	if res.Match || res.Verified {
		t.Fatal("cross-class labels must not match")
	}
}

func TestShadowFallbackClassifier(t *testing.T) {
	gen := &scriptedGen{responses: []string{"anxious"}}
	s := NewShadow(gen, logging.Nop(), DefaultConfig())

	// Context has no pattern cues, so pattern confidence floors at 0.3 and
	// the model fallback is consulted.
	res := s.Check(context.Background(),
		"I am worried and anxious about the load",
		"the process emitted forty messages in two seconds")
	if !res.UsedFallback {
		t.Fatal("expected model fallback")
	}
	if res.DetectedState != "anxious" {
		t.Fatalf("expected fallback label anxious, got %s", res.DetectedState)
	}
	if res.Confidence != DefaultConfig().ProbeAccuracy {
		t.Fatalf("fallback confidence should equal probe accuracy, got %f", res.Confidence)
	}
	if !res.Match {
		t.Fatal("matching labels should match")
	}
}

func TestShadowFallbackRejectsUnknownLabel(t *testing.T) {
	gen := &scriptedGen{responses: []string{"melancholic"}}
	s := NewShadow(gen, logging.Nop(), DefaultConfig())

	res := s.Check(context.Background(),
		"routine message",
		"the process emitted forty messages in two seconds")
	if res.UsedFallback {
		t.Fatal("unknown label must not be adopted")
	}
	if res.DetectedState != "neutral" {
		t.Fatalf("expected pattern default neutral, got %s", res.DetectedState)
	}
}

func TestShadowFallbackErrorKeepsPattern(t *testing.T) {
	gen := &scriptedGen{err: errors.New("model down")}
	s := NewShadow(gen, logging.Nop(), DefaultConfig())

	res := s.Check(context.Background(),
		"observing and waiting, steady and nominal, idle routine",
		"no cues present in this text")
	if res.UsedFallback {
		t.Fatal("failed fallback must not be marked used")
	}
	if res.DetectedState != "neutral" {
		t.Fatalf("expected neutral, got %s", res.DetectedState)
	}
}

func TestDetectStateConfidenceBounds(t *testing.T) {
	_, conf := detectState("nothing here matches", 0.85)
	if conf != 0.3 {
		t.Fatalf("no matches should floor at 0.3, got %f", conf)
	}

	_, conf = detectState(
		"clearly and definitely confident, certain, sure that it works", 2.0)
	if conf != 0.9 {
		t.Fatalf("confidence should cap at 0.9, got %f", conf)
	}
}
