package histdata

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/models"
	"github.com/cipherbrainstechnologies/Fifty7-sub000/internal/util"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndWindow(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 10, 27, 9, 15, 0, 0, util.IST())

	var cs []models.Candle
	for i := 0; i < 5; i++ {
		cs = append(cs, models.Candle{
			Time: start.Add(time.Duration(i) * time.Hour),
			Open: 100 + float64(i), High: 105 + float64(i), Low: 95 + float64(i), Close: 102 + float64(i),
		})
	}
	require.NoError(t, s.Upsert("NIFTY", KindSpot, cs))

	got, err := s.Window("NIFTY", KindSpot, start.Add(time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Time.Equal(start.Add(time.Hour)))
	assert.Equal(t, 101.0, got[0].Open)

	// Re-importing the same bucket replaces the row instead of duplicating it.
	cs[1].Close = 999
	require.NoError(t, s.Upsert("NIFTY", KindSpot, cs[:2]))
	n, err := s.Count("NIFTY", KindSpot)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err = s.Window("NIFTY", KindSpot, start.Add(time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 999.0, got[0].Close)
}

func TestBounds(t *testing.T) {
	s := openTestStore(t)

	_, _, ok, err := s.Bounds("NIFTY", KindSpot)
	require.NoError(t, err)
	assert.False(t, ok)

	start := time.Date(2025, 10, 27, 9, 15, 0, 0, util.IST())
	require.NoError(t, s.Upsert("NIFTY", KindSpot, []models.Candle{
		{Time: start, Open: 1, High: 1, Low: 1, Close: 1},
		{Time: start.Add(4 * time.Hour), Open: 1, High: 1, Low: 1, Close: 1},
	}))

	first, last, ok, err := s.Bounds("NIFTY", KindSpot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, first.Equal(start))
	assert.True(t, last.Equal(start.Add(4*time.Hour)))
}

func TestImportCSV(t *testing.T) {
	s := openTestStore(t)

	body := `timestamp,open,high,low,close,volume
2025-10-27 09:15,24400,24450,24380,24430,120000
2025-10-27 10:15,24430,24460,24410,24455,98000
2025-10-27 11:15,24455,24458,24412,24415,
`
	n, err := s.ImportCSV(strings.NewReader(body), "NIFTY", KindSpot)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	start := time.Date(2025, 10, 27, 9, 15, 0, 0, util.IST())
	got, err := s.Window("NIFTY", KindSpot, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 24430.0, got[0].Close)
	assert.Equal(t, int64(98000), got[1].Volume)
	assert.Equal(t, int64(0), got[2].Volume, "blank volume defaults to zero")
}

func TestOptionStrikes(t *testing.T) {
	s := openTestStore(t)
	c := []models.Candle{{
		Time: time.Date(2025, 10, 27, 9, 15, 0, 0, util.IST()),
		Open: 100, High: 110, Low: 95, Close: 105,
	}}
	for _, ts := range []string{
		"NIFTY28OCT2524400CE",
		"NIFTY28OCT2524500CE",
		"NIFTY28OCT2524500PE",
		"NIFTY04NOV2524500CE", // other expiry
	} {
		require.NoError(t, s.Upsert(ts, KindOption, c))
	}

	got, err := s.OptionStrikes("NIFTY", "28OCT25", models.SideCE)
	require.NoError(t, err)
	assert.Equal(t, []int{24400, 24500}, got)

	got, err = s.OptionStrikes("NIFTY", "28OCT25", models.SidePE)
	require.NoError(t, err)
	assert.Equal(t, []int{24500}, got)

	got, err = s.OptionStrikes("NIFTY", "21OCT25", models.SideCE)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestImportCSVRejectsBadRows(t *testing.T) {
	s := openTestStore(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing column",
			body: "timestamp,open,high,low\n2025-10-27 09:15,1,2,0\n",
			want: `missing column "close"`,
		},
		{
			name: "bad timestamp",
			body: "timestamp,open,high,low,close\nyesterday,1,2,0,1\n",
			want: "unrecognized timestamp",
		},
		{
			name: "inverted range",
			body: "timestamp,open,high,low,close\n2025-10-27 09:15,1,2,5,1\n",
			want: "below low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ImportCSV(strings.NewReader(tt.body), "NIFTY", KindSpot)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
