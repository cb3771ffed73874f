package classify_test

import (
	"testing"

	"codeberg.org/mutker/bmsctl/internal/classify"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	th := classify.DefaultThresholds()

	tests := []struct {
		name    string
		voltage float64
		temp    *float64
		want    telemetry.Status
	}{
		{"hot wins over normal voltage", 3.8, telemetry.Float(41), telemetry.StatusTemperatureAnomaly},
		{"no temperature low voltage", 3.5, nil, telemetry.StatusVoltageAnomaly},
		{"all within limits", 3.8, telemetry.Float(35), telemetry.StatusNormal},
		{"hot wins over high voltage", 4.5, telemetry.Float(41), telemetry.StatusTemperatureAnomaly},
		{"no temperature normal voltage", 3.9, nil, telemetry.StatusNormal},
		{"exactly at temp limit", 3.9, telemetry.Float(40), telemetry.StatusNormal},
		{"exactly at low limit", 3.6, nil, telemetry.StatusNormal},
		{"exactly at high limit", 4.1, nil, telemetry.StatusNormal},
		{"just over high limit", 4.11, telemetry.Float(20), telemetry.StatusVoltageAnomaly},
		{"cold battery", 3.9, telemetry.Float(-10), telemetry.StatusNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.voltage, tt.temp))
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	th := classify.Thresholds{TempHigh: 30, VoltageLow: 11.5, VoltageHigh: 14.6}
	assert.Equal(t, telemetry.StatusNormal, th.Classify(12.8, telemetry.Float(25)))
	assert.Equal(t, telemetry.StatusTemperatureAnomaly, th.Classify(12.8, telemetry.Float(31)))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, classify.DefaultThresholds().Validate())
	assert.Error(t, classify.Thresholds{TempHigh: 40, VoltageLow: 4.2, VoltageHigh: 4.1}.Validate())
}
