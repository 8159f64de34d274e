package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsegate/pkg/model"
)

func TestRingBuffer_NormalOperation(t *testing.T) {
	// Size 4 (must be power of 2)
	rb, err := NewRingBuffer(4)
	require.NoError(t, err)

	require.NoError(t, rb.Push(model.Events, map[string]any{"n": "1"}))
	require.NoError(t, rb.Push(model.Logs, map[string]any{"n": "2"}))

	f, data, ok := rb.Pop()
	require.True(t, ok)
	assert.Equal(t, model.Events, f)
	assert.Equal(t, "1", data["n"])

	f, data, ok = rb.Pop()
	require.True(t, ok)
	assert.Equal(t, model.Logs, f)
	assert.Equal(t, "2", data["n"])

	_, _, ok = rb.Pop()
	assert.False(t, ok, "expected empty buffer")
}

func TestRingBuffer_FullDrop(t *testing.T) {
	rb, _ := NewRingBuffer(2)

	_ = rb.Push(model.Events, map[string]any{"n": "1"})
	_ = rb.Push(model.Events, map[string]any{"n": "2"})

	// Third push should fail (Buffer Full)
	err := rb.Push(model.Events, map[string]any{"n": "3"})
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, uint64(1), rb.DroppedCount())

	// Should still read 1 and 2
	_, first, _ := rb.Pop()
	_, second, _ := rb.Pop()
	assert.Equal(t, "1", first["n"], "order corrupted")
	assert.Equal(t, "2", second["n"], "order corrupted")
}

func TestRingBuffer_InvalidSize(t *testing.T) {
	_, err := NewRingBuffer(3)
	assert.Error(t, err)
	_, err = NewRingBuffer(0)
	assert.Error(t, err)
}

func TestRingBuffer_ConcurrentWriters(t *testing.T) {
	rb, err := NewRingBuffer(1024)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = rb.Push(model.Events, map[string]any{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(800), rb.Usage())
	n := 0
	for {
		if _, _, ok := rb.Pop(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 800, n)
	assert.Equal(t, uint64(0), rb.Usage())
}
