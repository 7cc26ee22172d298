package instruments

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

func bar(dt time.Time, close float64) domain.Bar {
	return domain.Bar{
		Datetime: dt,
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   100,
	}
}

func TestAppendBarMonotonicity(t *testing.T) {
	a := NewAggregate(0, zerolog.Nop())
	t0 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)

	require.NoError(t, a.AppendBar("IO2603-C-3900.CFFEX", bar(t0, 100)))
	require.NoError(t, a.AppendBar("IO2603-C-3900.CFFEX", bar(t0.Add(time.Minute), 101)))

	// Same timestamp rejected
	err := a.AppendBar("IO2603-C-3900.CFFEX", bar(t0.Add(time.Minute), 102))
	assert.ErrorIs(t, err, ErrStaleBar)

	// Regression rejected
	err = a.AppendBar("IO2603-C-3900.CFFEX", bar(t0, 99))
	assert.ErrorIs(t, err, ErrStaleBar)

	// Series unchanged by the rejections
	hist := a.GetBarHistory("IO2603-C-3900.CFFEX", 0)
	require.Len(t, hist, 2)
	assert.Equal(t, 101.0, hist[1].Close)
}

func TestBarHistoryWindowAndCopy(t *testing.T) {
	a := NewAggregate(0, zerolog.Nop())
	t0 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.AppendBar("rb2605.SHFE", bar(t0.Add(time.Duration(i)*time.Minute), float64(100+i))))
	}

	last3 := a.GetBarHistory("rb2605.SHFE", 3)
	require.Len(t, last3, 3)
	assert.Equal(t, 102.0, last3[0].Close)

	// Mutating the returned slice must not affect the aggregate
	last3[0].Close = -1
	again := a.GetBarHistory("rb2605.SHFE", 3)
	assert.Equal(t, 102.0, again[0].Close)

	price, ok := a.GetLatestPrice("rb2605.SHFE")
	require.True(t, ok)
	assert.Equal(t, 104.0, price)

	_, ok = a.GetLatestPrice("unknown")
	assert.False(t, ok)
}

func TestMaxBarsTrimsHistory(t *testing.T) {
	a := NewAggregate(3, zerolog.Nop())
	t0 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.AppendBar("rb2605.SHFE", bar(t0.Add(time.Duration(i)*time.Minute), float64(i))))
	}
	hist := a.GetBarHistory("rb2605.SHFE", 0)
	require.Len(t, hist, 3)
	assert.Equal(t, 7.0, hist[0].Close)
}

func TestHasEnoughData(t *testing.T) {
	a := NewAggregate(0, zerolog.Nop())
	t0 := time.Now()
	assert.False(t, a.HasEnoughData("x", 1))

	require.NoError(t, a.AppendBar("x", bar(t0, 1)))
	require.NoError(t, a.AppendBar("x", bar(t0.Add(time.Minute), 2)))
	assert.True(t, a.HasEnoughData("x", 2))
	assert.False(t, a.HasEnoughData("x", 3))
}

func TestActiveContractEvents(t *testing.T) {
	a := NewAggregate(0, zerolog.Nop())

	a.SetActiveContract("rb", "rb2605.SHFE")
	a.SetActiveContract("rb", "rb2605.SHFE") // no-op
	a.SetActiveContract("rb", "rb2610.SHFE")

	evts := a.PopDomainEvents()
	require.Len(t, evts, 2)

	change, ok := evts[1].(*events.ActiveContractChangedData)
	require.True(t, ok)
	assert.Equal(t, "rb2605.SHFE", change.OldSymbol)
	assert.Equal(t, "rb2610.SHFE", change.NewSymbol)

	// Drained
	assert.Empty(t, a.PopDomainEvents())

	sym, ok := a.GetActiveContract("rb")
	require.True(t, ok)
	assert.Equal(t, "rb2610.SHFE", sym)

	all := a.GetAllActiveContracts()
	assert.Equal(t, map[string]string{"rb": "rb2610.SHFE"}, all)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	a := NewAggregate(0, zerolog.Nop())
	t0 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	require.NoError(t, a.AppendBar("rb2605.SHFE", bar(t0, 100)))
	a.GetOrCreate("rb2605.SHFE").Indicators["atr"] = 12.5
	a.SetActiveContract("rb", "rb2605.SHFE")
	a.PopDomainEvents()

	st := a.Snapshot()

	b := NewAggregate(0, zerolog.Nop())
	b.Restore(st)

	price, ok := b.GetLatestPrice("rb2605.SHFE")
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 12.5, b.Indicators("rb2605.SHFE")["atr"])

	sym, ok := b.GetActiveContract("rb")
	require.True(t, ok)
	assert.Equal(t, "rb2605.SHFE", sym)

	// Restore must not replay contract change events
	assert.Empty(t, b.PopDomainEvents())
}
