package fmv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, cfg Config) *Estimator {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cases := []struct {
		name string
		cfg  Config
	}{
		{"零窗口", Config{Window: 0, Threshold: 2}},
		{"负阈值", Config{Window: 15, Threshold: -0.1}},
		{"NaN阈值", Config{Window: 15, Threshold: math.NaN()}},
		{"无穷阈值", Config{Window: 15, Threshold: math.Inf(1)}},
		{"未知模式", Config{Window: 15, Threshold: 2, Mode: Mode(7)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeForward, m)

	m, err = ParseMode("backward")
	require.NoError(t, err)
	assert.Equal(t, ModeBackward, m)
	assert.Equal(t, "backward", m.String())

	_, err = ParseMode("sideways")
	assert.Error(t, err)
}

func TestRollingConstantPrices(t *testing.T) {
	prices := []float64{42.5, 42.5, 42.5, 42.5, 42.5, 42.5}
	for _, mode := range []Mode{ModeForward, ModeBackward} {
		e := mustNew(t, Config{Window: 4, Threshold: 2, Mode: mode})
		out := e.Rolling(prices)
		require.Len(t, out, len(prices))
		for i, v := range out {
			assert.Equal(t, 42.5, v, "mode=%s index=%d", mode, i)
		}
	}
}

func TestRollingLengthMatchesInput(t *testing.T) {
	e := mustNew(t, DefaultConfig())
	for n := 0; n < 40; n++ {
		prices := make([]float64, n)
		for i := range prices {
			prices[i] = float64(i%7) + 1
		}
		assert.Len(t, e.Rolling(prices), n)
	}
}

func TestRollingEmpty(t *testing.T) {
	e := mustNew(t, DefaultConfig())
	out := e.Rolling(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 0.0, e.Value(nil))
}

func TestSingleTradeWindow(t *testing.T) {
	e := mustNew(t, Config{Window: 1, Threshold: 2})
	out := e.Rolling([]float64{3, 9, 27})
	assert.Equal(t, []float64{3, 9, 27}, out)
	assert.Equal(t, 27.0, e.Value([]float64{3, 9, 27}))
}

// 单个大离群值在 k=2 时未必被剔除
func TestLargeOutlierSurvivesAtTwoSigma(t *testing.T) {
	e := mustNew(t, Config{Window: 4, Threshold: 2})
	prices := []float64{10, 10, 10, 100}

	assert.InDelta(t, 32.5, e.Value(prices), 1e-9)

	_, sd := meanStdDev(prices)
	assert.InDelta(t, 38.97, sd, 0.01)

	out := e.Rolling(prices)
	assert.InDelta(t, 32.5, out[0], 1e-9)
}

func TestOutlierRemovedAtOneSigma(t *testing.T) {
	e := mustNew(t, Config{Window: 4, Threshold: 1})
	assert.InDelta(t, 10.0, e.Value([]float64{10, 10, 10, 100}), 1e-9)
}

func TestWindowDirection(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}

	fwd := mustNew(t, Config{Window: 2, Threshold: 100, Mode: ModeForward})
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.5, 5}, fwd.Rolling(prices))

	bwd := mustNew(t, Config{Window: 2, Threshold: 100, Mode: ModeBackward})
	assert.Equal(t, []float64{1, 1.5, 2.5, 3.5, 4.5}, bwd.Rolling(prices))
}

func TestRollingDoesNotMutateInput(t *testing.T) {
	prices := []float64{5, 1, 4, 2, 3}
	orig := append([]float64(nil), prices...)
	e := mustNew(t, Config{Window: 3, Threshold: 0.5, Mode: ModeBackward})
	_ = e.Rolling(prices)
	_ = e.Value(prices)
	assert.Equal(t, orig, prices)
}

func TestLargeThresholdConvergesToMean(t *testing.T) {
	prices := []float64{1, 50, 3, 400, 7, 9, 2, 1000}
	e := mustNew(t, Config{Window: 3, Threshold: 1e9, Mode: ModeForward})
	out := e.Rolling(prices)
	for i := range prices {
		end := min(len(prices), i+3)
		mean, _ := meanStdDev(prices[i:end])
		assert.InDelta(t, mean, out[i], 1e-9, "index %d", i)
	}
}

func TestZeroThresholdKeepsOnlyMean(t *testing.T) {
	e := mustNew(t, Config{Window: 3, Threshold: 0})
	// μ=2，仅 2 被保留
	assert.Equal(t, 2.0, e.Value([]float64{1, 2, 3}))
	// μ=2，没有价格等于均值，回退到 μ
	assert.Equal(t, 2.0, e.Value([]float64{1, 3}))
}

// k>=1 且 σ>0 时至少有一个价格满足 |p-μ| <= kσ，不会回退到 μ。
func TestFilterNonEmptyWhenSigmaPositive(t *testing.T) {
	windows := [][]float64{
		{1, 2},
		{10, 10, 10, 100},
		{3, 7, 11, 200, 4},
		{0.5, 0.75, 0.6, 12},
		{1, 1000},
	}
	for _, w := range windows {
		_, sd := meanStdDev(w)
		require.Greater(t, sd, 0.0)
		for _, k := range []float64{1, 1.5, 2, 3} {
			_, kept := filterWindow(w, k)
			assert.Positive(t, kept, "window %v k=%v", w, k)
		}
	}
}

func TestFilterWindowFallsBackToMean(t *testing.T) {
	v, kept := filterWindow([]float64{1, 3}, 0)
	assert.Equal(t, 0, kept)
	assert.Equal(t, 2.0, v)

	// 10,10,10,100: μ=32.5, σ≈38.97，k=1 时 100 被剔除
	v, kept = filterWindow([]float64{10, 10, 10, 100}, 1)
	assert.Equal(t, 3, kept)
	assert.InDelta(t, 10.0, v, 1e-9)
}

func TestValueUsesTail(t *testing.T) {
	e := mustNew(t, Config{Window: 3, Threshold: 100})
	// 只看最后三笔：4, 5, 6
	assert.InDelta(t, 5.0, e.Value([]float64{100, 200, 4, 5, 6}), 1e-9)
}

func TestRollingAndValueShareStatistics(t *testing.T) {
	prices := []float64{12, 14, 13, 90, 12.5, 13.5, 14}
	e := mustNew(t, Config{Window: len(prices), Threshold: 2, Mode: ModeBackward})
	out := e.Rolling(prices)
	assert.Equal(t, e.Value(prices), out[len(out)-1])
}
