package verify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/model"
)

// #region checker

// Checker measures self-consistency by sampling the same introspective
// prompt several times at varied temperatures and clustering the answers.
type Checker struct {
	gen    model.Generator
	log    *zap.SugaredLogger
	config Config
}

// NewChecker creates a consistency checker over the given generator.
func NewChecker(gen model.Generator, log *zap.SugaredLogger, config Config) *Checker {
	return &Checker{gen: gen, log: log, config: config}
}

// #endregion checker

// #region check

// CheckConsistency samples the prompt N times concurrently, clusters the
// samples by Jaccard word-set similarity, and maps the majority-cluster
// agreement to a confidence score. Model errors degrade to a neutral 0.5
// score rather than failing.
func (c *Checker) CheckConsistency(ctx context.Context, prompt string) ConsistencyResult {
	if c.gen == nil {
		return ConsistencyResult{Agreement: 0, Score: 0.5}
	}

	samples := c.sample(ctx, prompt)
	if len(samples) == 0 {
		c.log.Warnw("no consistency samples returned, degrading to neutral")
		return ConsistencyResult{Agreement: 0, Score: 0.5}
	}

	agreement, majority := clusterAgreement(samples, c.config.ClusterThreshold)
	usedVerifier := false

	// Low raw agreement: ask a verifier pass to rate agreement directly
	// and prefer its rating.
	if agreement < 0.9 && c.config.VerifierEnabled {
		if rating, ok := c.verifierRating(ctx, samples); ok {
			agreement = rating
			usedVerifier = true
		}
	}

	return ConsistencyResult{
		Agreement:    agreement,
		Score:        agreementToConfidence(agreement),
		Samples:      len(samples),
		MajoritySize: majority,
		UsedVerifier: usedVerifier,
	}
}

// sample issues up to N generation calls concurrently and collects the
// successful responses.
func (c *Checker) sample(ctx context.Context, prompt string) []string {
	n := c.config.Samples
	temps := c.config.SampleTemperatures
	results := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			temp := float32(0.7)
			if len(temps) > 0 {
				temp = temps[i%len(temps)]
			}
			results[i], errs[i] = c.gen.Generate(ctx, prompt, model.SamplingParams{
				Temperature: temp,
				MaxTokens:   256,
			})
		}(i)
	}
	wg.Wait()

	var samples []string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			c.log.Debugw("consistency sample failed", "index", i, "error", errs[i])
			continue
		}
		if strings.TrimSpace(results[i]) != "" {
			samples = append(samples, results[i])
		}
	}
	return samples
}

// verifierRating asks the model to rate agreement 0-1 directly.
func (c *Checker) verifierRating(ctx context.Context, samples []string) (float64, bool) {
	var sb strings.Builder
	sb.WriteString("Rate the agreement between the following statements on a scale from 0 to 1. Respond with only the number.\n")
	for i, s := range samples {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(s))
	}

	text, err := c.gen.Generate(ctx, sb.String(), model.SamplingParams{Temperature: 0.1, MaxTokens: 8})
	if err != nil {
		c.log.Debugw("verifier rating failed", "error", err)
		return 0, false
	}
	rating, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || rating < 0 || rating > 1 {
		return 0, false
	}
	return rating, true
}

// #endregion check

// #region clustering

// clusterAgreement greedily clusters samples by Jaccard similarity against
// each cluster's first member and returns the majority cluster's fraction
// of all samples plus its size.
func clusterAgreement(samples []string, threshold float64) (float64, int) {
	sets := make([]map[string]struct{}, len(samples))
	for i, s := range samples {
		sets[i] = wordSet(s)
	}

	var clusters [][]int
	for i := range samples {
		placed := false
		for ci, cluster := range clusters {
			if jaccard(sets[i], sets[cluster[0]]) >= threshold {
				clusters[ci] = append(clusters[ci], i)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []int{i})
		}
	}

	majority := 0
	for _, cluster := range clusters {
		if len(cluster) > majority {
			majority = len(cluster)
		}
	}
	return float64(majority) / float64(len(samples)), majority
}

// jaccard computes set overlap over union. Two empty sets count as fully
// similar.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// agreementToConfidence is the fixed non-linear step table.
func agreementToConfidence(agreement float64) float64 {
	switch {
	case agreement >= 0.9:
		return 0.95
	case agreement >= 0.8:
		return 0.85
	case agreement >= 0.7:
		return 0.75
	case agreement >= 0.6:
		return 0.55
	case agreement >= 0.5:
		return 0.40
	default:
		return 0.30
	}
}

// #endregion clustering
