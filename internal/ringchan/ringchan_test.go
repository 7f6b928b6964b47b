package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForceSend_DropsOldestWhenFull(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.ForceSend(i)
	}

	// Only the last three survive
	var got []int
	for len(got) < 3 {
		v, ok := rc.TryReceive()
		assert.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestTrySend_FailsWhenFull(t *testing.T) {
	rc := New[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"))
	assert.Equal(t, 1, rc.Len())
}

func TestForceSend_ReportsDrop(t *testing.T) {
	rc := New[int](1)

	assert.False(t, rc.ForceSend(1))
	assert.True(t, rc.ForceSend(2))
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}

func TestClose_EndsRange(t *testing.T) {
	rc := New[int](4)
	rc.ForceSend(1)
	rc.ForceSend(2)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
}
