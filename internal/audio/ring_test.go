// SPDX-License-Identifier: MIT

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPCMRingPopReturnsPushedSamples(t *testing.T) {
	r := newPCMRing(2, 4, 1)
	r.push([]int16{1, 2, 3, 4})
	got, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, []int16{1, 2, 3, 4}, got)
}

func TestPCMRingDropsOldestWhenFull(t *testing.T) {
	r := newPCMRing(2, 1, 1)
	r.push([]int16{1})
	r.push([]int16{2})
	r.push([]int16{3}) // ring depth 2, should drop the "1" slot

	first, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, int16(2), first[0])

	second, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, int16(3), second[0])
}

func TestPCMRingStopUnblocksPop(t *testing.T) {
	r := newPCMRing(2, 1, 1)
	done := make(chan bool, 1)
	go func() {
		_, ok := r.pop()
		done <- ok
	}()
	r.stop()
	assert.False(t, <-done)
}

func TestEncodedRingDropsNewestWhenFull(t *testing.T) {
	r := newEncodedRing(2)
	assert.False(t, r.push(Packet{PTS: 1}))
	assert.False(t, r.push(Packet{PTS: 2}))
	assert.True(t, r.push(Packet{PTS: 3})) // dropped, ring stays at {1,2}

	p1, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), p1.PTS)

	p2, ok := r.pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(2), p2.PTS)

	_, ok = r.pop()
	assert.False(t, ok)
}

func TestEncodedRingLenTracksOccupancy(t *testing.T) {
	r := newEncodedRing(4)
	assert.Equal(t, 0, r.len())
	r.push(Packet{})
	r.push(Packet{})
	assert.Equal(t, 2, r.len())
	r.pop()
	assert.Equal(t, 1, r.len())
}
