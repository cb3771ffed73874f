package ads1115

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"codeberg.org/mutker/bmsctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	mu         sync.Mutex
	conversion uint16
	ready      bool
	writeErr   error
	lastConfig uint16
}

func (b *fakeBus) ReadBytes(byte, int) ([]byte, error) { return nil, nil }
func (b *fakeBus) WriteBytes(byte, []byte) error       { return nil }
func (b *fakeBus) Close() error                        { return nil }
func (b *fakeBus) SetAddress(byte) error               { return nil }

func (b *fakeBus) WriteToReg(_, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return b.writeErr
	}
	if reg == regConfig {
		b.lastConfig = binary.BigEndian.Uint16(value)
	}
	return nil
}

func (b *fakeBus) ReadFromReg(_, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch reg {
	case regConfig:
		status := b.lastConfig &^ configOsSingle
		if b.ready {
			status |= configOsSingle
		}
		binary.BigEndian.PutUint16(value, status)
	case regConversion:
		binary.BigEndian.PutUint16(value, b.conversion)
	}
	return nil
}

func TestReadReturnsCount(t *testing.T) {
	bus := &fakeBus{conversion: 6159, ready: true}
	ch, err := New(bus, DefaultAddress).Channel(sensor.BatteryVoltage, 1)
	require.NoError(t, err)

	r, err := ch.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sensor.BatteryVoltage, r.Channel)
	assert.Equal(t, 6159.0, r.Value)
	assert.Equal(t, sensor.Counts, r.Unit)
	assert.Equal(t, muxSingle[1], bus.lastConfig&0x7000)
	assert.Equal(t, configGainOne, bus.lastConfig&0x0E00)
}

func TestReadNegativeCount(t *testing.T) {
	raw := int16(-120)
	bus := &fakeBus{conversion: uint16(raw), ready: true}
	ch, err := New(bus, DefaultAddress).Channel(sensor.LoadCurrent, 0)
	require.NoError(t, err)

	r, err := ch.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -120.0, r.Value)
}

func TestReadSaturated(t *testing.T) {
	bus := &fakeBus{conversion: maxCount, ready: true}
	ch, _ := New(bus, DefaultAddress).Channel(sensor.BatteryVoltage, 0)

	_, err := ch.Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, sensor.KindOutOfRange, sensor.KindOf(err))
}

func TestReadConversionTimeout(t *testing.T) {
	bus := &fakeBus{conversion: 100, ready: false}
	ch, _ := New(bus, DefaultAddress).Channel(sensor.BatteryVoltage, 0)

	_, err := ch.Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, sensor.KindTimeout, sensor.KindOf(err))
}

func TestReadBusError(t *testing.T) {
	bus := &fakeBus{writeErr: errors.New("remote I/O error")}
	ch, _ := New(bus, DefaultAddress).Channel(sensor.BatteryVoltage, 0)

	_, err := ch.Read(context.Background())
	require.Error(t, err)
	assert.Equal(t, sensor.KindUnavailable, sensor.KindOf(err))
}

func TestChannelRejectsBadInput(t *testing.T) {
	_, err := New(&fakeBus{}, DefaultAddress).Channel(sensor.BatteryVoltage, 4)
	assert.Error(t, err)
}
