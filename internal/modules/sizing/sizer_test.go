package sizing

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/quantfisher/voltrader/internal/domain"
)

type fakeCaps struct {
	allowOpen    bool
	activeCount  int
	pendingClose int
}

func (f *fakeCaps) CheckOpenLimit(string, int) bool  { return f.allowOpen }
func (f *fakeCaps) ActivePositionCount() int         { return f.activeCount }
func (f *fakeCaps) PendingCloseVolume(string) int    { return f.pendingClose }

func TestCalculateOpenVolume(t *testing.T) {
	caps := &fakeCaps{allowOpen: true}
	s := NewSizer(5, 0.1, caps, zerolog.Nop())
	account := domain.AccountSnapshot{Balance: 1_000_000, Available: 500_000}

	assert.Equal(t, 2, s.CalculateOpenVolume(2, "rb2605.SHFE", domain.Contract{}, account))
	assert.Equal(t, 0, s.CalculateOpenVolume(0, "rb2605.SHFE", domain.Contract{}, account))

	// Daily cap refusal
	caps.allowOpen = false
	assert.Equal(t, 0, s.CalculateOpenVolume(2, "rb2605.SHFE", domain.Contract{}, account))
	caps.allowOpen = true

	// Concurrent position limit
	caps.activeCount = 5
	assert.Equal(t, 0, s.CalculateOpenVolume(2, "rb2605.SHFE", domain.Contract{}, account))
	caps.activeCount = 0

	// Free margin below the position_ratio requirement
	poor := domain.AccountSnapshot{Balance: 1_000_000, Available: 50_000}
	assert.Equal(t, 0, s.CalculateOpenVolume(2, "rb2605.SHFE", domain.Contract{}, poor))
}

func TestCalculateExitVolume(t *testing.T) {
	caps := &fakeCaps{}
	s := NewSizer(5, 0.1, caps, zerolog.Nop())
	pos := domain.Position{VtSymbol: "rb2605.SHFE", Volume: 5}

	assert.Equal(t, 3, s.CalculateExitVolume(3, pos))
	assert.Equal(t, 5, s.CalculateExitVolume(9, pos))

	caps.pendingClose = 4
	assert.Equal(t, 1, s.CalculateExitVolume(3, pos))

	caps.pendingClose = 5
	assert.Equal(t, 0, s.CalculateExitVolume(3, pos))
}
