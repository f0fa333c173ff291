package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlice(t *testing.T) {
	t.Run("it should start empty", func(t *testing.T) {
		// GIVEN / WHEN
		slice := NewSlice[string]()

		// THEN
		assert.Equal(t, 0, slice.Length())
		assert.Empty(t, slice.Get())
	})

	t.Run("it should keep append order for a single writer", func(t *testing.T) {
		// GIVEN
		slice := NewSlice[string]()

		// WHEN
		slice.Append("a")
		slice.Append("b", "c")

		// THEN
		assert.Equal(t, []string{"a", "b", "c"}, slice.Get())
	})

	t.Run("it should return a defensive copy", func(t *testing.T) {
		// GIVEN
		slice := NewSlice[int]()
		slice.Append(1)

		// WHEN
		snapshot := slice.Get()
		snapshot[0] = 99

		// THEN
		assert.Equal(t, []int{1}, slice.Get())
	})

	t.Run("it should accept concurrent writers", func(t *testing.T) {
		// GIVEN
		slice := NewSlice[int]()
		var wg sync.WaitGroup

		// WHEN
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				slice.Append(v)
			}(i)
		}
		wg.Wait()

		// THEN
		assert.Equal(t, 50, slice.Length())
	})
}
