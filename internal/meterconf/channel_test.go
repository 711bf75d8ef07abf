package meterconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseLaggingLeadingCycle(t *testing.T) {
	assert.Equal(t, PhaseP2, PhaseP1.Lagging())
	assert.Equal(t, PhaseP3, PhaseP2.Lagging())
	assert.Equal(t, PhaseP1, PhaseP3.Lagging())

	assert.Equal(t, PhaseP3, PhaseP1.Leading())
	assert.Equal(t, PhaseP1, PhaseP2.Leading())
	assert.Equal(t, PhaseP2, PhaseP3.Leading())
}

func TestChannelZeroMustBeActive(t *testing.T) {
	c := ChannelConfig{Index: 0, Active: false}
	assert.ErrorIs(t, c.Validate(), ErrChannelZeroMustBeActive)

	c.Active = true
	assert.NoError(t, c.Validate())
}

func TestDefaultChannelsOnlyChannelZeroActive(t *testing.T) {
	chans := DefaultChannels()
	assert.True(t, chans[0].Active)
	for i := 1; i < ChannelCount; i++ {
		assert.False(t, chans[i].Active, "channel %d should default inactive", i)
	}
}

func TestClampSampleTimeMS(t *testing.T) {
	assert.EqualValues(t, MinSampleTimeMS, ClampSampleTimeMS(10))
	assert.EqualValues(t, MaxSampleTimeMS, ClampSampleTimeMS(100000))
	assert.EqualValues(t, 1000, ClampSampleTimeMS(1000))
}
