// Package experiment implements deterministic A/B variant assignment,
// outcome recording and rollout gating for search and ranking changes.
package experiment

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

const (
	weightEpsilon = 1e-3
	hashBuckets   = 10000
	ringCapacity  = 4096
)

// Variant is one arm of an experiment
type Variant struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Experiment defines a traffic split. The first variant is the control.
type Experiment struct {
	Name                  string     `json:"name"`
	Variants              []Variant  `json:"variants"`
	StartTime             time.Time  `json:"start_time"`
	EndTime               *time.Time `json:"end_time,omitempty"`
	MinSamplesPerVariant  int        `json:"min_samples_per_variant"`
	PrimaryMetric         string     `json:"primary_metric"`
}

// Result is one recorded outcome
type Result struct {
	UserID         string                 `json:"user_id"`
	SessionID      string                 `json:"session_id"`
	Experiment     string                 `json:"experiment"`
	Variant        string                 `json:"variant"`
	ResponseTimeMS float64                `json:"response_time_ms"`
	AccuracyScore  float64                `json:"accuracy_score"`
	TalentsFound   int                    `json:"talents_found"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// VariantStats aggregates outcomes per variant
type VariantStats struct {
	Variant          string  `json:"variant"`
	Samples          int     `json:"samples"`
	MeanResponseMS   float64 `json:"mean_response_ms"`
	MeanAccuracy     float64 `json:"mean_accuracy"`
	MeanTalentsFound float64 `json:"mean_talents_found"`
}

// Stats is the per-experiment report
type Stats struct {
	Experiment    string         `json:"experiment"`
	Variants      []VariantStats `json:"variants"`
	Winner        string         `json:"winner,omitempty"`
	ReadyToRollout bool          `json:"ready_to_rollout"`
}

// Estimator compares a challenger against the control and names a
// winner, or "" when inconclusive. Implementations can bring real
// significance tests; the default is a mean comparison with a practical
// threshold.
type Estimator interface {
	Compare(control, challenger VariantStats) (winner string)
}

// MeanEstimator declares a winner when the challenger's mean primary
// metric beats the control by more than the practical threshold
type MeanEstimator struct {
	PracticalThreshold float64
}

func (e MeanEstimator) Compare(control, challenger VariantStats) string {
	threshold := e.PracticalThreshold
	if threshold <= 0 {
		threshold = 0.05
	}
	if control.Samples == 0 || challenger.Samples == 0 {
		return ""
	}
	if challenger.MeanResponseMS < control.MeanResponseMS*(1-threshold) {
		return challenger.Variant
	}
	if control.MeanResponseMS < challenger.MeanResponseMS*(1-threshold) {
		return control.Variant
	}
	return ""
}

// ResultLog durably records outcomes; see FileResultLog
type ResultLog interface {
	Append(result Result) error
	Close() error
}

type variantCounters struct {
	samples      int
	responseSum  float64
	accuracySum  float64
	talentsSum   float64
}

// Harness assigns users to variants and aggregates recorded outcomes.
// Assignment is pure hashing, stable across restarts and instances.
type Harness struct {
	estimator Estimator
	log       ResultLog
	logger    observability.Logger
	metrics   observability.MetricsClient

	mu          sync.RWMutex
	experiments map[string]*Experiment
	counters    map[string]map[string]*variantCounters
	ring        []Result
	ringNext    int
}

// NewHarness creates a harness; log may be nil, estimator defaults to
// MeanEstimator
func NewHarness(estimator Estimator, log ResultLog, logger observability.Logger, metrics observability.MetricsClient) *Harness {
	if estimator == nil {
		estimator = MeanEstimator{}
	}
	return &Harness{
		estimator:   estimator,
		log:         log,
		logger:      logger,
		metrics:     metrics,
		experiments: make(map[string]*Experiment),
		counters:    make(map[string]map[string]*variantCounters),
		ring:        make([]Result, 0, ringCapacity),
	}
}

// Register adds or replaces an experiment definition. Variant weights
// must sum to 1 within epsilon.
func (h *Harness) Register(exp Experiment) error {
	if exp.Name == "" {
		return apperrors.New(apperrors.KindValidation, "experiment name is required")
	}
	if len(exp.Variants) < 2 {
		return apperrors.New(apperrors.KindValidation, "an experiment needs at least two variants")
	}
	sum := 0.0
	for _, v := range exp.Variants {
		if v.Name == "" {
			return apperrors.New(apperrors.KindValidation, "variant name is required")
		}
		if v.Weight < 0 {
			return apperrors.Newf(apperrors.KindValidation, "variant %s has negative weight", v.Name)
		}
		sum += v.Weight
	}
	if math.Abs(sum-1) > weightEpsilon {
		return apperrors.Newf(apperrors.KindValidation, "variant weights sum to %f, want 1", sum)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.experiments[exp.Name] = &exp
	if h.counters[exp.Name] == nil {
		h.counters[exp.Name] = make(map[string]*variantCounters)
	}
	return nil
}

// Assign returns the stable variant for a user. The same (user,
// experiment) pair always maps to the same variant.
func (h *Harness) Assign(userID, experimentName string) (string, error) {
	if userID == "" {
		return "", apperrors.New(apperrors.KindValidation, "user id is required")
	}
	h.mu.RLock()
	exp, ok := h.experiments[experimentName]
	h.mu.RUnlock()
	if !ok {
		return "", apperrors.Newf(apperrors.KindNotFound, "experiment %s not registered", experimentName)
	}

	now := time.Now()
	if now.Before(exp.StartTime) || (exp.EndTime != nil && now.After(*exp.EndTime)) {
		return exp.Variants[0].Name, nil
	}

	p := bucketFraction(userID, experimentName)
	cumulative := 0.0
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if cumulative >= p {
			return v.Name, nil
		}
	}
	// float drift on the last boundary
	return exp.Variants[len(exp.Variants)-1].Name, nil
}

// bucketFraction hashes the pair into one of 10000 buckets and returns
// it as a fraction in [0,1)
func bucketFraction(userID, experimentName string) float64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(userID))
	hasher.Write([]byte("_"))
	hasher.Write([]byte(experimentName))
	return float64(hasher.Sum64()%hashBuckets) / hashBuckets
}

// Record stores an outcome in the ring, the aggregates and the durable
// log
func (h *Harness) Record(result Result) error {
	if result.Experiment == "" || result.Variant == "" {
		return apperrors.New(apperrors.KindValidation, "experiment and variant are required")
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}

	h.mu.Lock()
	byVariant := h.counters[result.Experiment]
	if byVariant == nil {
		byVariant = make(map[string]*variantCounters)
		h.counters[result.Experiment] = byVariant
	}
	c := byVariant[result.Variant]
	if c == nil {
		c = &variantCounters{}
		byVariant[result.Variant] = c
	}
	c.samples++
	c.responseSum += result.ResponseTimeMS
	c.accuracySum += result.AccuracyScore
	c.talentsSum += float64(result.TalentsFound)

	if len(h.ring) < ringCapacity {
		h.ring = append(h.ring, result)
	} else {
		h.ring[h.ringNext] = result
		h.ringNext = (h.ringNext + 1) % ringCapacity
	}
	h.mu.Unlock()

	h.metrics.IncrementCounterWithLabels("experiment_results_total", 1, map[string]string{
		"experiment": result.Experiment,
		"variant":    result.Variant,
	})

	if h.log != nil {
		if err := h.log.Append(result); err != nil {
			h.logger.Warn("experiment log append failed", map[string]interface{}{
				"experiment": result.Experiment,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// Stats reports per-variant aggregates, the estimator's winner and the
// rollout gate
func (h *Harness) Stats(experimentName string) (*Stats, error) {
	h.mu.RLock()
	exp, ok := h.experiments[experimentName]
	if !ok {
		h.mu.RUnlock()
		return nil, apperrors.Newf(apperrors.KindNotFound, "experiment %s not registered", experimentName)
	}

	stats := &Stats{Experiment: experimentName}
	for _, v := range exp.Variants {
		vs := VariantStats{Variant: v.Name}
		if c := h.counters[experimentName][v.Name]; c != nil && c.samples > 0 {
			vs.Samples = c.samples
			vs.MeanResponseMS = c.responseSum / float64(c.samples)
			vs.MeanAccuracy = c.accuracySum / float64(c.samples)
			vs.MeanTalentsFound = c.talentsSum / float64(c.samples)
		}
		stats.Variants = append(stats.Variants, vs)
	}
	h.mu.RUnlock()

	control := stats.Variants[0]
	for _, challenger := range stats.Variants[1:] {
		if winner := h.estimator.Compare(control, challenger); winner != "" && stats.Winner == "" {
			stats.Winner = winner
		}
		if readyToRollout(control, challenger) {
			stats.ReadyToRollout = true
		}
	}
	return stats, nil
}

// readyToRollout gates promotion of a challenger over the control
func readyToRollout(control, challenger VariantStats) bool {
	return control.Samples >= 500 &&
		challenger.Samples >= 100 &&
		challenger.MeanResponseMS < control.MeanResponseMS &&
		challenger.MeanAccuracy >= 0.90
}
