package dedupe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestWindow_Observe(t *testing.T) {
	w := New(10)

	assert.True(t, w.Observe("a:1"))
	assert.True(t, w.Observe("a:2"))
	assert.False(t, w.Observe("a:1"))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_EvictsOldestWhenFull(t *testing.T) {
	w := New(3)

	assert.True(t, w.Observe("k1"))
	assert.True(t, w.Observe("k2"))
	assert.True(t, w.Observe("k3"))
	assert.Equal(t, 3, w.Len())

	// k4 evicts k1, the oldest entry
	assert.True(t, w.Observe("k4"))
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Observe("k4"))

	// k1 fell out of the window and reads as new again
	assert.True(t, w.Observe("k1"))
}

func TestWindow_Reset(t *testing.T) {
	w := New(10)
	w.Observe("a:1")
	w.Observe("a:2")

	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.True(t, w.Observe("a:1"))
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := New(0)
	for i := 0; i < DefaultCapacity+100; i++ {
		w.Observe(fmt.Sprintf("jid:%d", i))
	}
	assert.Equal(t, DefaultCapacity, w.Len())
}

func TestWindow_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		w := New(capacity)

		inWindow := make(map[string]bool)
		order := make([]string, 0)

		keys := rapid.SliceOfN(rapid.StringMatching(`[a-c][0-9]`), 0, 500).Draw(t, "keys")
		for _, key := range keys {
			fresh := w.Observe(key)

			if inWindow[key] {
				// A key still inside the window must read as duplicate
				// and must not change the window size.
				if fresh {
					t.Fatalf("key %q reported fresh while in window", key)
				}
				continue
			}

			if !fresh {
				t.Fatalf("key %q reported duplicate while absent", key)
			}
			if len(order) == capacity {
				evicted := order[0]
				order = order[1:]
				delete(inWindow, evicted)
			}
			order = append(order, key)
			inWindow[key] = true
		}

		if w.Len() > capacity {
			t.Fatalf("window holds %d keys, capacity %d", w.Len(), capacity)
		}
		if w.Len() != len(inWindow) {
			t.Fatalf("window holds %d keys, model holds %d", w.Len(), len(inWindow))
		}
	})
}
