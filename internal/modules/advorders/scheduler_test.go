package advorders

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

func newTestScheduler(t *testing.T) (*Scheduler, *events.Bus, *time.Time) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	s := NewScheduler(bus, zerolog.Nop())
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	s.now = func() time.Time { return now }
	s.rng = rand.New(rand.NewSource(1))
	return s, bus, &now
}

func parent(volume int) domain.OrderInstruction {
	return domain.OrderInstruction{
		VtSymbol:  "rb2605.SHFE",
		Direction: domain.Short,
		Offset:    domain.OffsetOpen,
		Volume:    volume,
		Price:     3500,
	}
}

// submitAll dispatches every pending child, simulating the engine loop
func submitAll(t *testing.T, s *Scheduler, now time.Time) []PendingChild {
	t.Helper()
	pending := s.GetPendingChildren(now)
	for _, p := range pending {
		id := fmt.Sprintf("%s-%d", p.ParentID[:8], p.ChildIndex)
		require.NoError(t, s.MarkChildSubmitted(p.ParentID, p.ChildIndex, id))
	}
	return pending
}

func TestIcebergCompletionScenario(t *testing.T) {
	s, bus, nowP := newTestScheduler(t)
	now := *nowP

	var got []events.Event
	bus.SubscribeAll(func(e events.Event) { got = append(got, e) })

	id, err := s.SubmitIceberg(parent(100), 30)
	require.NoError(t, err)

	o, ok := s.Get(id)
	require.True(t, ok)
	require.Len(t, o.Children, 4)
	assert.Equal(t, []int{30, 30, 30, 10}, childVolumes(o))

	// Children release strictly one at a time, each after the previous fill
	for i, want := range []int{30, 30, 30, 10} {
		pending := submitAll(t, s, now)
		require.Len(t, pending, 1, "child %d", i)
		assert.Equal(t, want, pending[0].Instruction.Volume)

		// Nothing new while the child is unfilled
		assert.Empty(t, s.GetPendingChildren(now))

		s.OnChildFilled(fmt.Sprintf("%s-%d", id[:8], i), want)
	}

	o, _ = s.Get(id)
	assert.Equal(t, StatusComplete, o.Status)

	require.Len(t, got, 1)
	assert.Equal(t, events.IcebergComplete, got[0].Type)
	data := got[0].Data.(*events.AdvancedOrderCompleteData)
	assert.Equal(t, 100, data.TotalVolume)
	assert.Equal(t, 100, data.FilledVolume)
}

func TestTWAPPartialCancelScenario(t *testing.T) {
	s, bus, nowP := newTestScheduler(t)
	start := *nowP

	var cancelled []events.Event
	bus.Subscribe(events.TWAPCancelled, func(e events.Event) { cancelled = append(cancelled, e) })
	var completed []events.Event
	bus.Subscribe(events.TWAPComplete, func(e events.Event) { completed = append(completed, e) })

	id, err := s.SubmitTWAP(domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 300,
	}, 300, 5)
	require.NoError(t, err)

	o, _ := s.Get(id)
	assert.Equal(t, []int{60, 60, 60, 60, 60}, childVolumes(o))
	for i, c := range o.Children {
		assert.Equal(t, start.Add(time.Duration(i)*60*time.Second), c.ScheduledTime)
	}

	// At t=150 the first three children (t=0,60,120) are due
	at150 := start.Add(150 * time.Second)
	pending := s.GetPendingChildren(at150)
	require.Len(t, pending, 3)

	// Submit them, then cancel the parent
	submitAll(t, s, at150)
	unsubmitted, err := s.CancelOrder(id)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, unsubmitted)

	o, _ = s.Get(id)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.True(t, o.Children[3].Cancelled)
	assert.True(t, o.Children[4].Cancelled)

	// Nothing more is released and no completion fires
	assert.Empty(t, s.GetPendingChildren(start.Add(time.Hour)))
	assert.Len(t, cancelled, 1)
	assert.Empty(t, completed)
}

func childVolumes(o AdvancedOrder) []int {
	out := make([]int, len(o.Children))
	for i, c := range o.Children {
		out[i] = c.Volume
	}
	return out
}

func TestSplitTotalityProperty(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < 150; i++ {
		total := 1 + rng.Intn(500)
		var (
			id  string
			err error
		)
		switch i % 4 {
		case 0:
			id, err = s.SubmitIceberg(parent(total), 1+rng.Intn(50))
		case 1:
			id, err = s.SubmitClassicIceberg(parent(total), 1+rng.Intn(50), rng.Float64(), 3)
		case 2:
			id, err = s.SubmitTWAP(parent(total), 60+rng.Float64()*600, 1+rng.Intn(10))
		case 3:
			w := make([]float64, 1+rng.Intn(8))
			sum := 0.0
			for j := range w {
				w[j] = rng.Float64() + 0.01
				sum += w[j]
			}
			for j := range w {
				w[j] /= sum
			}
			id, err = s.SubmitVWAP(parent(total), 300, w)
		}
		require.NoError(t, err)

		o, ok := s.Get(id)
		require.True(t, ok)
		got := 0
		for _, c := range o.Children {
			got += c.Volume
			assert.Positive(t, c.Volume)
		}
		assert.Equal(t, total, got, "case %d algo %s", i, o.Algo)
	}
}

func TestScheduledMonotonicityProperty(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 120; i++ {
		total := 1 + rng.Intn(300)
		var id string
		var err error
		switch i % 3 {
		case 0:
			id, err = s.SubmitTimedSplit(parent(total), 1+rng.Intn(30), 1+rng.Float64()*60)
		case 1:
			id, err = s.SubmitEnhancedTWAP(parent(total), 10+rng.Float64()*600, 1+rng.Intn(12))
		case 2:
			id, err = s.SubmitClassicIceberg(parent(total), 1+rng.Intn(30), 0.5, 2)
		}
		require.NoError(t, err)

		o, _ := s.Get(id)
		for j := 1; j < len(o.Children); j++ {
			assert.False(t, o.Children[j].ScheduledTime.Before(o.Children[j-1].ScheduledTime),
				"case %d child %d regressed", i, j)
		}
	}
}

func TestIcebergGatingProperty(t *testing.T) {
	for seed := int64(0); seed < 100; seed++ {
		s := NewScheduler(events.NewBus(zerolog.Nop()), zerolog.Nop())
		now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
		s.now = func() time.Time { return now }
		s.rng = rand.New(rand.NewSource(seed))
		rng := rand.New(rand.NewSource(seed + 1000))

		total := 1 + rng.Intn(200)
		var id string
		var err error
		if seed%2 == 0 {
			id, err = s.SubmitIceberg(parent(total), 1+rng.Intn(40))
		} else {
			id, err = s.SubmitClassicIceberg(parent(total), 1+rng.Intn(40), rng.Float64(), 3)
		}
		require.NoError(t, err)

		filled := 0
		step := 0
		for filled < total {
			pending := s.GetPendingChildren(now)
			require.LessOrEqual(t, len(pending), 1, "seed %d released multiple children", seed)
			if len(pending) == 0 {
				break
			}
			p := pending[0]
			oid := fmt.Sprintf("c-%d-%d", seed, step)
			require.NoError(t, s.MarkChildSubmitted(p.ParentID, p.ChildIndex, oid))

			// Partial fill keeps the gate shut
			half := p.Instruction.Volume / 2
			if half > 0 {
				s.OnChildFilled(oid, half)
				assert.Empty(t, s.GetPendingChildren(now), "seed %d gate leaked", seed)
				s.OnChildFilled(oid, p.Instruction.Volume-half)
			} else {
				s.OnChildFilled(oid, p.Instruction.Volume)
			}
			filled += p.Instruction.Volume
			step++
		}
		require.Equal(t, total, filled, "seed %d", seed)

		o, _ := s.Get(id)
		assert.Equal(t, StatusComplete, o.Status, "seed %d", seed)
	}
}

func TestCompletionProperty(t *testing.T) {
	s, bus, nowP := newTestScheduler(t)
	now := *nowP

	var completions int
	bus.Subscribe(events.TWAPComplete, func(events.Event) { completions++ })

	id, err := s.SubmitTWAP(parent(10), 100, 2)
	require.NoError(t, err)

	pending := s.GetPendingChildren(now.Add(time.Hour))
	require.Len(t, pending, 2)
	for _, p := range pending {
		oid := fmt.Sprintf("t-%d", p.ChildIndex)
		require.NoError(t, s.MarkChildSubmitted(p.ParentID, p.ChildIndex, oid))
	}

	s.OnChildFilled("t-0", 5)
	o, _ := s.Get(id)
	assert.Equal(t, StatusActive, o.Status)
	assert.Zero(t, completions)

	// Over-reported fills clamp at the child volume
	s.OnChildFilled("t-1", 99)
	o, _ = s.Get(id)
	assert.Equal(t, StatusComplete, o.Status)
	assert.Equal(t, 10, o.FilledVolume())
	assert.Equal(t, 1, completions)
}

func TestClassicIcebergPriceOffsets(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	id, err := s.SubmitClassicIceberg(parent(100), 10, 0.3, 3)
	require.NoError(t, err)

	o, _ := s.Get(id)
	for _, c := range o.Children {
		assert.LessOrEqual(t, c.PriceOffset, 3.0)
		assert.GreaterOrEqual(t, c.PriceOffset, -3.0)
	}

	// The released instruction carries the offset price
	pending := s.GetPendingChildren(s.now())
	require.Len(t, pending, 1)
	c := o.Children[0]
	assert.Equal(t, 3500+c.PriceOffset, pending[0].Instruction.Price)
}

func TestVWAPLargestRemainder(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	id, err := s.SubmitVWAP(parent(100), 300, []float64{0.5, 0.3, 0.2})
	require.NoError(t, err)
	o, _ := s.Get(id)
	assert.Equal(t, []int{50, 30, 20}, childVolumes(o))

	// 7 lots over 0.6/0.4: floors 4 and 2, residue lands on the largest
	id, err = s.SubmitVWAP(parent(7), 300, []float64{0.6, 0.4})
	require.NoError(t, err)
	o, _ = s.Get(id)
	assert.Equal(t, []int{5, 2}, childVolumes(o))
}

func TestValidationRejections(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	_, err := s.SubmitIceberg(parent(0), 10)
	assert.ErrorIs(t, err, ErrInvalidVolume)

	_, err = s.SubmitIceberg(parent(10), 0)
	assert.ErrorIs(t, err, ErrInvalidVolume)

	_, err = s.SubmitClassicIceberg(parent(10), 5, 1.5, 0)
	assert.ErrorIs(t, err, ErrInvalidRatio)

	_, err = s.SubmitTWAP(parent(10), 0, 5)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = s.SubmitTWAP(parent(10), 60, 0)
	assert.ErrorIs(t, err, ErrInvalidSlices)

	_, err = s.SubmitVWAP(parent(10), 60, nil)
	assert.ErrorIs(t, err, ErrEmptyProfile)

	_, err = s.SubmitVWAP(parent(10), 60, []float64{0.5, 0.3})
	assert.ErrorIs(t, err, ErrEmptyProfile)

	_, err = s.CancelOrder("no-such-id")
	assert.ErrorIs(t, err, ErrUnknownParent)
}
