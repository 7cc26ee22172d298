package advorders

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

// Scheduler owns all advanced orders. It does not send orders itself:
// the engine polls GetPendingChildren and dispatches through the
// executor, then reports fills back via OnChildFilled.
type Scheduler struct {
	mu     sync.Mutex
	orders map[string]*AdvancedOrder
	byChild map[string]childRef // vt_orderid -> parent/child

	bus *events.Bus
	rng *rand.Rand
	now func() time.Time
	log zerolog.Logger
}

type childRef struct {
	parentID string
	index    int
}

// NewScheduler creates an empty scheduler
func NewScheduler(bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		orders:  make(map[string]*AdvancedOrder),
		byChild: make(map[string]childRef),
		bus:     bus,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		log:     log.With().Str("component", "advorders").Logger(),
	}
}

func (s *Scheduler) register(o *AdvancedOrder) string {
	o.AdvancedID = uuid.NewString()
	o.Status = StatusPending
	o.CreateTime = s.now()
	s.mu.Lock()
	s.orders[o.AdvancedID] = o
	s.mu.Unlock()
	s.log.Info().
		Str("advanced_id", o.AdvancedID).
		Str("algo", string(o.Algo)).
		Str("vt_symbol", o.Parent.VtSymbol).
		Int("total_volume", o.Parent.Volume).
		Int("children", len(o.Children)).
		Msg("Advanced order accepted")
	return o.AdvancedID
}

// SubmitIceberg splits the parent into equal batches released one at a
// time: the next child goes out only after the previous one fills fully.
func (s *Scheduler) SubmitIceberg(parent domain.OrderInstruction, batchSize int) (string, error) {
	if parent.Volume <= 0 || batchSize <= 0 {
		return "", ErrInvalidVolume
	}
	volumes := splitEqual(parent.Volume, batchSize)
	start := s.now()
	o := &AdvancedOrder{Algo: AlgoIceberg, Parent: parent}
	for i, v := range volumes {
		o.Children = append(o.Children, ChildOrder{Index: i, Volume: v, ScheduledTime: start})
	}
	return s.register(o), nil
}

// SubmitClassicIceberg splits by perOrderVolume with multiplicative
// jitter in [1-ratio, 1+ratio] and a per-child price offset uniform in
// [-maxOffsetTicks, +maxOffsetTicks]. The child volumes still sum to the
// parent volume exactly.
func (s *Scheduler) SubmitClassicIceberg(parent domain.OrderInstruction, perOrderVolume int, ratio float64, maxOffsetTicks float64) (string, error) {
	if parent.Volume <= 0 || perOrderVolume <= 0 {
		return "", ErrInvalidVolume
	}
	if ratio < 0 || ratio > 1 {
		return "", ErrInvalidRatio
	}
	volumes := splitJittered(parent.Volume, perOrderVolume, ratio, s.rng)
	start := s.now()
	o := &AdvancedOrder{Algo: AlgoClassicIceberg, Parent: parent}
	for i, v := range volumes {
		offset := 0.0
		if maxOffsetTicks > 0 {
			offset = math.Round((2*s.rng.Float64() - 1) * maxOffsetTicks)
		}
		o.Children = append(o.Children, ChildOrder{
			Index: i, Volume: v, PriceOffset: offset, ScheduledTime: start,
		})
	}
	return s.register(o), nil
}

// SubmitTimedSplit splits by perOrderVolume with children scheduled at
// fixed intervals regardless of prior fills.
func (s *Scheduler) SubmitTimedSplit(parent domain.OrderInstruction, perOrderVolume int, intervalSeconds float64) (string, error) {
	if parent.Volume <= 0 || perOrderVolume <= 0 {
		return "", ErrInvalidVolume
	}
	if intervalSeconds <= 0 {
		return "", ErrInvalidWindow
	}
	volumes := splitEqual(parent.Volume, perOrderVolume)
	times := scheduleEvenly(s.now(), len(volumes), time.Duration(intervalSeconds*float64(time.Second)))
	o := &AdvancedOrder{Algo: AlgoTimedSplit, Parent: parent}
	for i, v := range volumes {
		o.Children = append(o.Children, ChildOrder{Index: i, Volume: v, ScheduledTime: times[i]})
	}
	return s.register(o), nil
}

// SubmitTWAP divides the parent into numSlices equal pieces scheduled
// evenly across the window.
func (s *Scheduler) SubmitTWAP(parent domain.OrderInstruction, windowSeconds float64, numSlices int) (string, error) {
	return s.submitTWAP(AlgoTWAP, parent, windowSeconds, numSlices)
}

// SubmitEnhancedTWAP is TWAP parameterized by an explicit time window
// and slice count.
func (s *Scheduler) SubmitEnhancedTWAP(parent domain.OrderInstruction, timeWindowSeconds float64, numSlices int) (string, error) {
	return s.submitTWAP(AlgoEnhancedTWAP, parent, timeWindowSeconds, numSlices)
}

func (s *Scheduler) submitTWAP(algo AlgoType, parent domain.OrderInstruction, windowSeconds float64, numSlices int) (string, error) {
	if parent.Volume <= 0 {
		return "", ErrInvalidVolume
	}
	if numSlices <= 0 {
		return "", ErrInvalidSlices
	}
	if windowSeconds <= 0 {
		return "", ErrInvalidWindow
	}
	volumes := splitSlices(parent.Volume, numSlices)
	interval := time.Duration(windowSeconds / float64(numSlices) * float64(time.Second))
	times := scheduleEvenly(s.now(), len(volumes), interval)
	o := &AdvancedOrder{Algo: algo, Parent: parent}
	for i, v := range volumes {
		o.Children = append(o.Children, ChildOrder{Index: i, Volume: v, ScheduledTime: times[i]})
	}
	return s.register(o), nil
}

// SubmitVWAP allocates the parent across slices proportionally to the
// normalized volume profile; rounding residue goes to the largest slice.
func (s *Scheduler) SubmitVWAP(parent domain.OrderInstruction, windowSeconds float64, profile []float64) (string, error) {
	if parent.Volume <= 0 {
		return "", ErrInvalidVolume
	}
	if len(profile) == 0 {
		return "", ErrEmptyProfile
	}
	if windowSeconds <= 0 {
		return "", ErrInvalidWindow
	}
	sum := 0.0
	for _, w := range profile {
		if w < 0 {
			return "", fmt.Errorf("%w: negative weight", ErrEmptyProfile)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return "", fmt.Errorf("%w: weights sum to %v, want 1", ErrEmptyProfile, sum)
	}

	volumes := splitWeighted(parent.Volume, profile)
	interval := time.Duration(windowSeconds / float64(len(profile)) * float64(time.Second))
	times := scheduleEvenly(s.now(), len(volumes), interval)
	o := &AdvancedOrder{Algo: AlgoVWAP, Parent: parent}
	for i, v := range volumes {
		o.Children = append(o.Children, ChildOrder{Index: i, Volume: v, ScheduledTime: times[i]})
	}
	return s.register(o), nil
}

// PendingChild is a child ready for dispatch
type PendingChild struct {
	ParentID    string
	ChildIndex  int
	Instruction domain.OrderInstruction
}

// GetPendingChildren returns the children due at now that have not been
// submitted. Sequential algorithms release at most one child and only
// when every earlier child has filled fully.
func (s *Scheduler) GetPendingChildren(now time.Time) []PendingChild {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingChild
	for _, o := range s.orders {
		if o.Status == StatusComplete || o.Status == StatusCancelled {
			continue
		}
		for i := range o.Children {
			c := &o.Children[i]
			if c.Submitted || c.Cancelled {
				continue
			}
			if c.ScheduledTime.After(now) {
				break
			}
			if o.sequential() && i > 0 {
				prev := &o.Children[i-1]
				if prev.Filled < prev.Volume {
					break
				}
			}
			instr := o.Parent
			instr.Volume = c.Volume
			instr.Price = o.Parent.Price + c.PriceOffset
			out = append(out, PendingChild{ParentID: o.AdvancedID, ChildIndex: i, Instruction: instr})
			if o.sequential() {
				break
			}
		}
	}
	return out
}

// MarkChildSubmitted records the broker order id for a dispatched child
func (s *Scheduler) MarkChildSubmitted(parentID string, childIndex int, vtOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[parentID]
	if !ok || childIndex < 0 || childIndex >= len(o.Children) {
		return ErrUnknownParent
	}
	c := &o.Children[childIndex]
	c.Submitted = true
	c.VtOrderID = vtOrderID
	s.byChild[vtOrderID] = childRef{parentID: parentID, index: childIndex}
	if o.Status == StatusPending {
		o.Status = StatusActive
	}
	return nil
}

// OnChildFilled records fills against a child order. The parent reaches
// COMPLETE exactly when the filled volumes sum to the parent volume,
// emitting the algorithm's completion event once.
func (s *Scheduler) OnChildFilled(childVtOrderID string, filledVolume int) {
	s.mu.Lock()

	ref, ok := s.byChild[childVtOrderID]
	if !ok {
		s.mu.Unlock()
		return
	}
	o := s.orders[ref.parentID]
	c := &o.Children[ref.index]
	c.Filled += filledVolume
	if c.Filled > c.Volume {
		c.Filled = c.Volume
	}

	if o.Status == StatusActive && o.FilledVolume() == o.Parent.Volume {
		o.Status = StatusComplete
		evt := events.NewAdvancedOrderComplete(
			o.completeEventType(), o.AdvancedID, o.Parent.VtSymbol,
			o.Parent.Volume, o.FilledVolume())
		s.mu.Unlock()
		s.log.Info().
			Str("advanced_id", o.AdvancedID).
			Str("algo", string(o.Algo)).
			Msg("Advanced order complete")
		s.bus.Publish("advorders", evt)
		return
	}
	s.mu.Unlock()
}

// CancelOrder cancels the remaining children of a parent, returning the
// indices never submitted. Already-working children must be cancelled at
// the broker by the caller using their vt_orderids.
func (s *Scheduler) CancelOrder(parentID string) ([]int, error) {
	s.mu.Lock()

	o, ok := s.orders[parentID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownParent
	}
	if o.Status == StatusComplete || o.Status == StatusCancelled {
		s.mu.Unlock()
		return nil, nil
	}

	var unsubmitted []int
	for i := range o.Children {
		c := &o.Children[i]
		if !c.Submitted {
			c.Cancelled = true
			unsubmitted = append(unsubmitted, i)
		}
	}
	o.Status = StatusCancelled
	evt := events.NewAdvancedOrderCancelled(
		o.cancelEventType(), o.AdvancedID, o.Parent.VtSymbol,
		o.FilledVolume(), o.RemainingVolume())
	s.mu.Unlock()

	s.log.Info().
		Str("advanced_id", parentID).
		Int("unsubmitted", len(unsubmitted)).
		Msg("Advanced order cancelled")
	s.bus.Publish("advorders", evt)
	return unsubmitted, nil
}

// Get returns a copy of the advanced order
func (s *Scheduler) Get(parentID string) (AdvancedOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[parentID]
	if !ok {
		return AdvancedOrder{}, false
	}
	cp := *o
	cp.Children = append([]ChildOrder(nil), o.Children...)
	return cp, true
}

// ActiveOrders returns copies of orders not yet terminal
func (s *Scheduler) ActiveOrders() []AdvancedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AdvancedOrder
	for _, o := range s.orders {
		if o.Status == StatusPending || o.Status == StatusActive {
			cp := *o
			cp.Children = append([]ChildOrder(nil), o.Children...)
			out = append(out, cp)
		}
	}
	return out
}
