package speechgate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sg "github.com/edukit/speechgate"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		unit   sg.Unit
		want   int64
	}{
		{"seconds are the base unit", 500, sg.UnitSeconds, 500},
		{"seconds truncate toward zero", 30.7, sg.UnitSeconds, 30},
		{"words cost a tenth", 500, sg.UnitWord, 50},
		{"word fraction truncates", 15, sg.UnitWord, 1},
		{"images cost ten", 2, sg.UnitImage, 20},
		{"minutes cost sixty", 2.5, sg.UnitMinute, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sg.Convert(tt.amount, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_UnsupportedUnit(t *testing.T) {
	_, err := sg.Convert(10, sg.Unit("tokens"))
	var unitErr *sg.UnsupportedUnitError
	require.ErrorAs(t, err, &unitErr)
	assert.Equal(t, sg.Unit("tokens"), unitErr.Unit)
}

func TestEstimateCost(t *testing.T) {
	// 3 seconds of 16 kHz 16-bit mono PCM.
	sample := sg.Sample{Audio: make([]byte, 3*32000)}
	assert.Equal(t, int64(3), sg.EstimateCost(sample))

	// Sub-second payloads still estimate one base unit.
	assert.Equal(t, int64(1), sg.EstimateCost(sg.Sample{Audio: make([]byte, 100)}))
}
