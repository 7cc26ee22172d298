package barpipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
)

func tick(sym string, dt time.Time, price, cumVolume float64) domain.Tick {
	return domain.Tick{VtSymbol: sym, Datetime: dt, LastPrice: price, Volume: cumVolume}
}

func TestGeneratorFlushesOnMinuteBoundary(t *testing.T) {
	var batches []map[string]domain.Bar
	g := NewBarGenerator(func(bars map[string]domain.Bar) { batches = append(batches, bars) })

	m0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g.OnTick(tick("rb2605.SHFE", m0.Add(1*time.Second), 3500, 100))
	g.OnTick(tick("rb2605.SHFE", m0.Add(30*time.Second), 3510, 180))
	g.OnTick(tick("rb2605.SHFE", m0.Add(45*time.Second), 3495, 250))
	require.Empty(t, batches)

	// First tick of the next minute closes the bar
	g.OnTick(tick("rb2605.SHFE", m0.Add(61*time.Second), 3502, 260))
	require.Len(t, batches, 1)

	bar := batches[0]["rb2605.SHFE"]
	assert.Equal(t, m0, bar.Datetime)
	assert.Equal(t, 3500.0, bar.Open)
	assert.Equal(t, 3510.0, bar.High)
	assert.Equal(t, 3495.0, bar.Low)
	assert.Equal(t, 3495.0, bar.Close)
	// Volume is the delta of the cumulative session counter
	assert.Equal(t, 250.0, bar.Volume)
}

func TestGeneratorFlushesAllSymbolsTogether(t *testing.T) {
	var batches []map[string]domain.Bar
	g := NewBarGenerator(func(bars map[string]domain.Bar) { batches = append(batches, bars) })

	m0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g.OnTick(tick("rb2605.SHFE", m0.Add(5*time.Second), 3500, 50))
	g.OnTick(tick("m2605.DCE", m0.Add(10*time.Second), 2800, 30))
	g.OnTick(tick("rb2605.SHFE", m0.Add(65*time.Second), 3501, 60))

	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Contains(t, batches[0], "rb2605.SHFE")
	assert.Contains(t, batches[0], "m2605.DCE")
}

func TestGeneratorVolumeResetOnNewSession(t *testing.T) {
	var batches []map[string]domain.Bar
	g := NewBarGenerator(func(bars map[string]domain.Bar) { batches = append(batches, bars) })

	m0 := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	g.OnTick(tick("rb2605.SHFE", m0.Add(time.Second), 3500, 5000))
	g.Flush()
	require.Len(t, batches, 1)

	// Night session: the broker's cumulative counter restarts
	m1 := m0.Add(10 * time.Minute)
	g.OnTick(tick("rb2605.SHFE", m1.Add(time.Second), 3505, 40))
	g.Flush()
	require.Len(t, batches, 2)
	assert.Equal(t, 40.0, batches[1]["rb2605.SHFE"].Volume)
}

func TestGeneratorIgnoresZeroPriceTicks(t *testing.T) {
	g := NewBarGenerator(func(map[string]domain.Bar) { t.Fatal("no bars expected") })

	m0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g.OnTick(tick("rb2605.SHFE", m0, 0, 10))
	g.Flush()
}
