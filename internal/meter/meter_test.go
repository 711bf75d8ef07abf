package meter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/jibrilsharafi/energyme-core/internal/measurement"
	"github.com/jibrilsharafi/energyme-core/internal/meterconf"
	"github.com/jibrilsharafi/energyme-core/internal/spibus"
	"github.com/jibrilsharafi/energyme-core/internal/telemetry"
)

var errNotFound = errors.New("meter test: not found")

// fakeConn is a minimal periph.io/x/conn/v3/spi.Conn double that
// services register writes/reads and the LAST_ADD/LAST_OP/LAST_RWDATA_*
// verification trio ApplyConfig's verified writes depend on.
type fakeConn struct {
	regs map[uint16]int32

	lastAddr uint16
	lastOp   byte
	lastData int32
}

func newFakeConn() *fakeConn { return &fakeConn{regs: make(map[uint16]int32)} }

func (f *fakeConn) String() string      { return "fake" }
func (f *fakeConn) Duplex() conn.Duplex { return conn.Full }

func (f *fakeConn) Tx(w, r []byte) error {
	addr := uint16(w[0])<<8 | uint16(w[1])
	isWrite := w[2] == 0x00
	n := len(w) - 3

	switch {
	case addr == spibus.RegLastAdd.Addr:
		putBE(r[3:], uint32(f.lastAddr), n)
	case addr == spibus.RegLastOp.Addr:
		r[3] = f.lastOp
	case isLastRWData(addr):
		putBE(r[3:], uint32(f.lastData), n)
	case isWrite:
		v := getBE(w[3:])
		f.regs[addr] = int32(v)
		f.lastAddr, f.lastOp, f.lastData = addr, spibus.LastOpWrite, int32(v)
	default:
		v := f.regs[addr]
		putBE(r[3:], uint32(v), n)
		f.lastAddr, f.lastOp, f.lastData = addr, spibus.LastOpRead, v
	}
	return nil
}

func isLastRWData(addr uint16) bool {
	return addr == 0x0FF || addr == 0x1FF || addr == 0x2FF || addr == 0x3FF
}

func putBE(b []byte, v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getBE(b []byte) uint32 {
	var v uint32
	for _, by := range b {
		v = v<<8 | uint32(by)
	}
	return v
}

type memStore struct {
	data map[string]map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string]map[string][]byte)} }

func (m *memStore) Get(ns, key string) ([]byte, error) {
	b, ok := m.data[ns]
	if !ok {
		return nil, errNotFound
	}
	v, ok := b[key]
	if !ok {
		return nil, errNotFound
	}
	return v, nil
}

func (m *memStore) Set(ns, key string, value []byte) error {
	if m.data[ns] == nil {
		m.data[ns] = make(map[string][]byte)
	}
	m.data[ns][key] = value
	return nil
}

func (m *memStore) Delete(ns, key string) error {
	delete(m.data[ns], key)
	return nil
}

func (m *memStore) ForEach(ns string, fn func(key string, value []byte) error) error {
	for k, v := range m.data[ns] {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func newTestMeter(t *testing.T) *Meter {
	t.Helper()
	irq := &gpiotest.Pin{N: "irq"}
	deps := Deps{
		Conn:    newFakeConn(),
		Bit0:    &gpiotest.Pin{N: "b0"},
		Bit1:    &gpiotest.Pin{N: "b1"},
		Bit2:    &gpiotest.Pin{N: "b2"},
		Bit3:    &gpiotest.Pin{N: "b3"},
		IRQ:     irq,
		Store:   newMemStore(),
		Sink:    telemetry.NoopSink{},
		DataDir: t.TempDir(),
	}
	m, err := New(deps)
	require.NoError(t, err)
	return m
}

func TestSetChannelRoundTrips(t *testing.T) {
	m := newTestMeter(t)

	cc := meterconf.ChannelConfig{
		Active: true,
		Label:  "dishwasher",
		Phase:  meterconf.PhaseP1,
	}
	require.NoError(t, m.SetChannel(3, cc))

	got := m.Channels()[3]
	assert.Equal(t, "dishwasher", got.Label)
	assert.True(t, got.Active)
	assert.Equal(t, uint8(3), got.Index)
}

func TestSetChannelZeroMustStayActive(t *testing.T) {
	m := newTestMeter(t)

	err := m.SetChannel(0, meterconf.ChannelConfig{Active: false})
	assert.ErrorIs(t, err, ErrConfigInvalid)

	assert.True(t, m.Channels()[0].Active, "rejected update must not apply")
}

func TestSetSampleTimeMsClamps(t *testing.T) {
	m := newTestMeter(t)

	require.NoError(t, m.SetSampleTimeMs(50))
	assert.Equal(t, uint32(meterconf.MinSampleTimeMS), m.SampleTimeMs())

	require.NoError(t, m.SetSampleTimeMs(100000))
	assert.Equal(t, uint32(meterconf.MaxSampleTimeMS), m.SampleTimeMs())
}

func TestSetAde7953PersistsAndReloads(t *testing.T) {
	store := newMemStore()
	irq := &gpiotest.Pin{N: "irq"}
	deps := Deps{
		Conn: newFakeConn(), Bit0: &gpiotest.Pin{N: "b0"}, Bit1: &gpiotest.Pin{N: "b1"},
		Bit2: &gpiotest.Pin{N: "b2"}, Bit3: &gpiotest.Pin{N: "b3"}, IRQ: irq,
		Store: store, Sink: telemetry.NoopSink{}, DataDir: t.TempDir(),
	}
	m, err := New(deps)
	require.NoError(t, err)

	cfg := meterconf.DefaultAde7953Config
	cfg.AIGain = 1234
	require.NoError(t, m.SetAde7953(cfg))

	reloaded, err := New(deps)
	require.NoError(t, err)
	assert.Equal(t, int32(1234), reloaded.Ade7953().AIGain)
}

func TestResetEnergiesClearsSnapshots(t *testing.T) {
	m := newTestMeter(t)
	m.engine.SeedEnergy(0, measurement.BucketActiveImported, 42)
	require.NoError(t, m.ResetEnergies())
	assert.Equal(t, 0.0, m.Snapshot(0).ActiveImportedWh)
}

func TestSeededFromStoreTracksAbsenceNotValue(t *testing.T) {
	store := newMemStore()
	irq := &gpiotest.Pin{N: "irq"}
	deps := Deps{
		Conn: newFakeConn(), Bit0: &gpiotest.Pin{N: "b0"}, Bit1: &gpiotest.Pin{N: "b1"},
		Bit2: &gpiotest.Pin{N: "b2"}, Bit3: &gpiotest.Pin{N: "b3"}, IRQ: irq,
		Store: store, Sink: telemetry.NoopSink{}, DataDir: t.TempDir(),
	}

	m, err := New(deps)
	require.NoError(t, err)
	assert.False(t, m.SampleTimeSeeded(), "nothing persisted yet")
	assert.False(t, m.Ade7953Seeded())
	assert.False(t, m.ChannelSeeded(0))

	require.NoError(t, m.SetSampleTimeMs(1500))
	cc := m.Channels()[0]
	cc.Label = "oven"
	require.NoError(t, m.SetChannel(0, cc))

	reloaded, err := New(deps)
	require.NoError(t, err)
	assert.True(t, reloaded.SampleTimeSeeded(), "persisted value must be recognised on reload")
	assert.True(t, reloaded.ChannelSeeded(0))
	assert.False(t, reloaded.ChannelSeeded(1), "untouched channel is still unseeded")

	// A later YAML default that happens to differ from the persisted
	// value must not look like "never configured" to the caller.
	assert.Equal(t, uint32(1500), reloaded.SampleTimeMs())
}
