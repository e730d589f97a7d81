package discovery

import (
	"nearby/radio"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvertiserResumesAfterRadioReturns(t *testing.T) {
	f := newFakeRadio()
	a := NewAdvertiser(f)
	defer a.Close()

	a.Start("alice")
	on, id := f.advertising()
	require.True(t, on)
	assert.Equal(t, []byte("alice"), id)

	f.setAvail(false)
	on, _ = f.advertising()
	require.False(t, on)

	f.setAvail(true)
	require.Eventually(t, func() bool {
		on, _ := f.advertising()
		return on
	}, 2*time.Second, 10*time.Millisecond)
	_, id = f.advertising()
	assert.Equal(t, []byte("alice"), id)
}

func TestAdvertiserStartWhileUnavailable(t *testing.T) {
	f := newFakeRadio()
	f.setAvail(false)
	a := NewAdvertiser(f)
	defer a.Close()

	// The wish is remembered and applied once the radio shows up.
	a.Start("alice")
	on, _ := f.advertising()
	require.False(t, on)

	f.setAvail(true)
	require.Eventually(t, func() bool {
		on, _ := f.advertising()
		return on
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAdvertiserRefusesEmptyIdentity(t *testing.T) {
	f := newFakeRadio()
	a := NewAdvertiser(f)
	defer a.Close()

	a.Start("")

	on, _ := f.advertising()
	assert.False(t, on)
	assert.Zero(t, f.advertiseCalls())
}

func TestAdvertiserStopClearsWish(t *testing.T) {
	f := newFakeRadio()
	a := NewAdvertiser(f)
	defer a.Close()

	a.Start("alice")
	a.Stop()
	on, _ := f.advertising()
	require.False(t, on)

	// A radio cycle must not bring advertising back.
	f.setAvail(false)
	f.setAvail(true)
	time.Sleep(50 * time.Millisecond)
	on, _ = f.advertising()
	assert.False(t, on)
}

func TestAdvertiserSwapsIdentity(t *testing.T) {
	f := newFakeRadio()
	a := NewAdvertiser(f)
	defer a.Close()

	a.Start("alice")
	a.Start("bob")

	on, id := f.advertising()
	require.True(t, on)
	assert.Equal(t, []byte("bob"), id)
	assert.Equal(t, 2, f.advertiseCalls())

	// Re-announcing the same identity is a no-op.
	a.Start("bob")
	assert.Equal(t, 2, f.advertiseCalls())
}

func TestScannerResumesAfterRadioReturns(t *testing.T) {
	f := newFakeRadio()
	s := NewScanner(f, func(radio.Sighting) {})
	defer s.Close()

	s.Start()
	require.True(t, f.scanning())

	f.setAvail(false)
	require.False(t, f.scanning())

	f.setAvail(true)
	require.Eventually(t, f.scanning, 2*time.Second, 10*time.Millisecond)
}

func TestScannerStartWhileUnavailable(t *testing.T) {
	f := newFakeRadio()
	f.setAvail(false)
	s := NewScanner(f, func(radio.Sighting) {})
	defer s.Close()

	s.Start()
	require.False(t, f.scanning())

	f.setAvail(true)
	require.Eventually(t, f.scanning, 2*time.Second, 10*time.Millisecond)
}

func TestScannerStopClearsWish(t *testing.T) {
	f := newFakeRadio()
	s := NewScanner(f, func(radio.Sighting) {})
	defer s.Close()

	s.Start()
	s.Stop()
	require.False(t, f.scanning())

	f.setAvail(false)
	f.setAvail(true)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.scanning())
}

func TestScannerDeliversSightings(t *testing.T) {
	f := newFakeRadio()
	got := make(chan radio.Sighting, 1)
	s := NewScanner(f, func(sg radio.Sighting) { got <- sg })
	defer s.Close()

	s.Start()
	f.sight(radio.Sighting{Addr: "addr-1", Identity: []byte("alice"), At: time.Now()})

	select {
	case sg := <-got:
		assert.Equal(t, radio.TransportAddress("addr-1"), sg.Addr)
	case <-time.After(2 * time.Second):
		t.Fatal("the sighting never reached the sink")
	}
}
