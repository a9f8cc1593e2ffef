package strikes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
)

func TestGridStep(t *testing.T) {
	assert.Equal(t, 50, GridStep("NIFTY"))
	assert.Equal(t, 100, GridStep("BANKNIFTY"))
	assert.Equal(t, 100, GridStep("FINNIFTY"))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		spot   float64
		side   models.Side
		mode   Mode
		offset int
		want   int
	}{
		{"ATM rounds to nearest", 24233.4, models.SideCE, ModeATM, 0, 24250},
		{"ATM rounds down", 24224.9, models.SidePE, ModeATM, 0, 24200},
		{"ITM call below spot", 24250, models.SideCE, ModeITM, 100, 24150},
		{"OTM call above spot", 24250, models.SideCE, ModeOTM, 100, 24350},
		{"ITM put above spot", 24250, models.SidePE, ModeITM, 100, 24350},
		{"OTM put below spot", 24250, models.SidePE, ModeOTM, 100, 24150},
		{"zero offset acts as ATM", 24250, models.SideCE, ModeITM, 0, 24250},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(tc.spot, tc.side, tc.mode, tc.offset, 50))
		})
	}
}

func TestNearestListed(t *testing.T) {
	listed := []int{24100, 24200, 24300}

	got, ok := NearestListed(listed, 24180)
	assert.True(t, ok)
	assert.Equal(t, 24200, got)

	// Ties break toward the lower strike.
	got, _ = NearestListed(listed, 24150)
	assert.Equal(t, 24100, got)

	_, ok = NearestListed(nil, 24150)
	assert.False(t, ok)
}
