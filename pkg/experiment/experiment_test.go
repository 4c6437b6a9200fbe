package experiment

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

func newHarness(t *testing.T) *Harness {
	t.Helper()
	return NewHarness(nil, nil, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
}

func twoArm(name string, controlWeight float64) Experiment {
	return Experiment{
		Name: name,
		Variants: []Variant{
			{Name: "control", Weight: controlWeight},
			{Name: "challenger", Weight: 1 - controlWeight},
		},
	}
}

func TestRegisterValidatesWeights(t *testing.T) {
	h := newHarness(t)

	err := h.Register(Experiment{Name: "bad", Variants: []Variant{
		{Name: "a", Weight: 0.6},
		{Name: "b", Weight: 0.6},
	}})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	// within epsilon passes
	assert.NoError(t, h.Register(Experiment{Name: "ok", Variants: []Variant{
		{Name: "a", Weight: 0.5},
		{Name: "b", Weight: 0.4995},
	}}))

	err = h.Register(Experiment{Name: "single", Variants: []Variant{{Name: "a", Weight: 1}}})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAssignIsStable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("ranker", 0.5)))

	first, err := h.Assign("user-42", "ranker")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := h.Assign("user-42", "ranker")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssignUnknownExperiment(t *testing.T) {
	h := newHarness(t)
	_, err := h.Assign("user-1", "missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestAssignDegenerateWeights(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(Experiment{Name: "all-control", Variants: []Variant{
		{Name: "control", Weight: 1},
		{Name: "challenger", Weight: 0},
	}}))

	for i := 0; i < 1000; i++ {
		v, err := h.Assign(fmt.Sprintf("user-%d", i), "all-control")
		require.NoError(t, err)
		assert.Equal(t, "control", v)
	}
}

func TestAssignSplitApproximatesWeights(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("split", 0.5)))

	counts := map[string]int{}
	const users = 10000
	for i := 0; i < users; i++ {
		v, err := h.Assign(fmt.Sprintf("user-%d", i), "split")
		require.NoError(t, err)
		counts[v]++
	}

	ratio := float64(counts["control"]) / users
	assert.InDelta(t, 0.5, ratio, 0.02)
}

func TestDifferentExperimentsHashIndependently(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("exp-a", 0.5)))
	require.NoError(t, h.Register(twoArm("exp-b", 0.5)))

	same := 0
	const users = 2000
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("user-%d", i)
		va, _ := h.Assign(user, "exp-a")
		vb, _ := h.Assign(user, "exp-b")
		if va == vb {
			same++
		}
	}
	// correlated hashing would put everyone in the same arm twice
	assert.InDelta(t, 0.5, float64(same)/users, 0.05)
}

func TestStatsAggregation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("ranker", 0.5)))

	for i := 0; i < 4; i++ {
		require.NoError(t, h.Record(Result{
			Experiment: "ranker", Variant: "control",
			ResponseTimeMS: 100 + float64(i*10), AccuracyScore: 0.9, TalentsFound: 5,
		}))
	}
	require.NoError(t, h.Record(Result{
		Experiment: "ranker", Variant: "challenger",
		ResponseTimeMS: 80, AccuracyScore: 0.95, TalentsFound: 7,
	}))

	stats, err := h.Stats("ranker")
	require.NoError(t, err)
	require.Len(t, stats.Variants, 2)
	assert.Equal(t, 4, stats.Variants[0].Samples)
	assert.InDelta(t, 115, stats.Variants[0].MeanResponseMS, 1e-9)
	assert.InDelta(t, 80, stats.Variants[1].MeanResponseMS, 1e-9)
	assert.False(t, stats.ReadyToRollout, "not enough samples yet")
}

func TestMeanEstimatorPracticalThreshold(t *testing.T) {
	e := MeanEstimator{}

	control := VariantStats{Variant: "control", Samples: 100, MeanResponseMS: 100}
	fast := VariantStats{Variant: "challenger", Samples: 100, MeanResponseMS: 90}
	assert.Equal(t, "challenger", e.Compare(control, fast))

	marginal := VariantStats{Variant: "challenger", Samples: 100, MeanResponseMS: 97}
	assert.Equal(t, "", e.Compare(control, marginal), "within the practical threshold")

	slow := VariantStats{Variant: "challenger", Samples: 100, MeanResponseMS: 120}
	assert.Equal(t, "control", e.Compare(control, slow))
}

func TestRolloutGate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("gate", 0.5)))

	for i := 0; i < 500; i++ {
		require.NoError(t, h.Record(Result{Experiment: "gate", Variant: "control", ResponseTimeMS: 100, AccuracyScore: 0.92}))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, h.Record(Result{Experiment: "gate", Variant: "challenger", ResponseTimeMS: 80, AccuracyScore: 0.95}))
	}

	stats, err := h.Stats("gate")
	require.NoError(t, err)
	assert.True(t, stats.ReadyToRollout)
	assert.Equal(t, "challenger", stats.Winner)
}

func TestRolloutGateRequiresAccuracy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.Register(twoArm("gate", 0.5)))

	for i := 0; i < 500; i++ {
		require.NoError(t, h.Record(Result{Experiment: "gate", Variant: "control", ResponseTimeMS: 100, AccuracyScore: 0.92}))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, h.Record(Result{Experiment: "gate", Variant: "challenger", ResponseTimeMS: 80, AccuracyScore: 0.8}))
	}

	stats, err := h.Stats("gate")
	require.NoError(t, err)
	assert.False(t, stats.ReadyToRollout)
}

func TestFileResultLogAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "results.jsonl")
	log, err := NewFileResultLog(path)
	require.NoError(t, err)

	h := NewHarness(nil, log, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	require.NoError(t, h.Register(twoArm("logged", 0.5)))
	require.NoError(t, h.Record(Result{Experiment: "logged", Variant: "control", ResponseTimeMS: 50}))
	require.NoError(t, h.Record(Result{Experiment: "logged", Variant: "challenger", ResponseTimeMS: 60}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		assert.Equal(t, "logged", r.Experiment)
		lines++
	}
	assert.Equal(t, 2, lines)
}
