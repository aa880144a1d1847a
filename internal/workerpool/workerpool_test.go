// SPDX-License-Identifier: MIT

package workerpool

import (
	"errors"
	"testing"
	"time"

	"github.com/pikvm/ustreamer-go/internal/device"
	"github.com/pikvm/ustreamer-go/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsIdleWorkerBeforeAnyJob(t *testing.T) {
	p := New(2, 64, func(hw *device.HWBuffer, dest *frame.Frame) error { return nil }, time.Second, time.Millisecond)
	defer p.Close()

	st, ok := p.Wait(time.Second)
	require.True(t, ok)
	assert.Nil(t, st.HW)
	assert.Nil(t, st.Dest)
}

func TestAssignThenWaitRoundTrip(t *testing.T) {
	p := New(1, 64, func(hw *device.HWBuffer, dest *frame.Frame) error {
		dest.SetPayload([]byte("jpeg-bytes"))
		return nil
	}, time.Second, time.Millisecond)
	defer p.Close()

	st, ok := p.Wait(time.Second)
	require.True(t, ok)

	hw := &device.HWBuffer{Index: 3}
	p.Assign(st.Worker, hw)

	st2, ok := p.Wait(time.Second)
	require.True(t, ok)
	assert.False(t, st2.JobFailed)
	assert.True(t, st2.JobTimely)
	assert.Equal(t, hw, st2.HW)
	assert.Equal(t, "jpeg-bytes", string(st2.Dest.Data[:st2.Dest.Used]))
}

func TestJobFailureReported(t *testing.T) {
	p := New(1, 64, func(hw *device.HWBuffer, dest *frame.Frame) error {
		return errors.New("boom")
	}, time.Second, time.Millisecond)
	defer p.Close()

	st, _ := p.Wait(time.Second)
	p.Assign(st.Worker, &device.HWBuffer{Index: 0})
	st2, ok := p.Wait(time.Second)
	require.True(t, ok)
	assert.True(t, st2.JobFailed)
}

func TestFluencyDelayFloorsAtMinDelay(t *testing.T) {
	p := New(1, 64, func(hw *device.HWBuffer, dest *frame.Frame) error { return nil }, time.Second, 50*time.Millisecond)
	defer p.Close()

	st, _ := p.Wait(time.Second)
	// Never run a job yet: latency is zero, should floor to minDelay.
	assert.Equal(t, 50*time.Millisecond, p.FluencyDelay(st.Worker))
}

func TestJobTimelyFalseWhenSlowerThanTimeout(t *testing.T) {
	p := New(1, 64, func(hw *device.HWBuffer, dest *frame.Frame) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}, 5*time.Millisecond, time.Millisecond)
	defer p.Close()

	st, _ := p.Wait(time.Second)
	p.Assign(st.Worker, &device.HWBuffer{Index: 0})
	st2, ok := p.Wait(time.Second)
	require.True(t, ok)
	assert.False(t, st2.JobTimely)
}
