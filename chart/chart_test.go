package chart

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"card-tracker-go/market"
)

func newestFirst() market.Series {
	day := 24 * time.Hour
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return market.Series{
		{Price: 3, Ts: base.Add(2 * day)},
		{Price: 2, Ts: base.Add(day)},
		{Price: 1, Ts: base},
	}
}

func TestBuildReversesAndAligns(t *testing.T) {
	card := market.CardRef{ID: "7", Season: "3"}
	c := Build(card, newestFirst(), []float64{2.5, 1.5, 1}, 2, Options{Window: 15, Threshold: 2, Mode: "forward"})

	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, c.Labels)
	assert.Equal(t, []float64{1, 2, 3}, c.Prices)
	assert.Equal(t, []float64{1, 1.5, 2.5}, c.FMV)
	assert.Equal(t, [2]Point{{X: "2024-03-01", Y: 2}, {X: "2024-03-03", Y: 2}}, c.Reference)
	assert.Equal(t, 3, c.TradeCount)
	assert.Equal(t, card, c.Card)
	assert.Equal(t, "forward", c.Mode)
}

func TestBuildEmpty(t *testing.T) {
	c := Build(market.CardRef{ID: "1", Season: "3"}, nil, nil, 0, Options{})
	assert.Empty(t, c.Labels)
	assert.Empty(t, c.FMV)
	assert.Equal(t, [2]Point{}, c.Reference)
	assert.False(t, c.GeneratedAt.IsZero())
}

func TestBuildLabelFormatAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC-13", -13*3600)
	c := Build(market.CardRef{}, newestFirst(), []float64{1, 1, 1}, 1, Options{LabelFormat: "01/02", Location: loc})
	assert.Equal(t, "02/29", c.Labels[0])
}

func TestChartJSON(t *testing.T) {
	c := Build(market.CardRef{ID: "9", Season: "2"}, newestFirst(), []float64{1, 1, 1}, 1, Options{RunID: "abc"})
	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "labels")
	assert.Contains(t, decoded, "reference")
	assert.Equal(t, "abc", decoded["runId"])
	assert.Equal(t, "9", decoded["card"].(map[string]interface{})["cardId"])
}
