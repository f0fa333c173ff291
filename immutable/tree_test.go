package immutable

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf[V any](t Tree[V]) []int {
	var keys []int
	for k := range t.All() {
		keys = append(keys, k)
	}
	return keys
}

func TestTree(t *testing.T) {
	t.Run("it should be usable as a zero value", func(t *testing.T) {
		// GIVEN
		var tree Tree[string]

		// WHEN
		_, found := tree.Get(42)

		// THEN
		assert.False(t, found)
		assert.True(t, tree.IsEmpty())
		assert.Equal(t, 0, tree.Len())
		assert.Equal(t, 0, tree.Height())
	})

	t.Run("it should keep previous versions untouched", func(t *testing.T) {
		// GIVEN
		v1 := Tree[string]{}.AddOrUpdate(1, "one", nil)

		// WHEN
		v2 := v1.AddOrUpdate(2, "two", nil)
		v3 := v2.AddOrUpdate(1, "uno", nil)

		// THEN
		_, found := v1.Get(2)
		assert.False(t, found)
		one, _ := v2.Get(1)
		assert.Equal(t, "one", one)
		uno, _ := v3.Get(1)
		assert.Equal(t, "uno", uno)
		assert.Equal(t, 1, v1.Len())
		assert.Equal(t, 2, v3.Len())
	})

	t.Run("it should merge values with the update function", func(t *testing.T) {
		// GIVEN
		tree := Tree[[]string]{}.AddOrUpdate(7, []string{"a"}, nil)

		// WHEN
		tree = tree.AddOrUpdate(7, []string{"b"}, func(existing, added []string) []string {
			return append(append([]string{}, existing...), added...)
		})

		// THEN
		v, _ := tree.Get(7)
		assert.Equal(t, []string{"a", "b"}, v)
		assert.Equal(t, 1, tree.Len())
	})

	t.Run("it should keep the existing value with AddOrKeep", func(t *testing.T) {
		// GIVEN
		tree := Tree[string]{}.AddOrUpdate(3, "first", nil)

		// WHEN
		tree = tree.AddOrKeep(3, "second")

		// THEN
		v, _ := tree.Get(3)
		assert.Equal(t, "first", v)
	})

	t.Run("it should stay balanced with sequential inserts", func(t *testing.T) {
		// GIVEN
		var tree Tree[int]
		const n = 10_000

		// WHEN
		for i := range n {
			tree = tree.AddOrUpdate(i, i*i, nil)
		}

		// THEN
		assert.Equal(t, n, tree.Len())
		assert.LessOrEqual(t, float64(tree.Height()), 1.45*math.Log2(n+2))
		for i := range n {
			v, found := tree.Get(i)
			require.True(t, found)
			require.Equal(t, i*i, v)
		}
	})

	t.Run("it should iterate in ascending key order", func(t *testing.T) {
		// GIVEN
		var tree Tree[struct{}]
		for _, k := range rand.Perm(200) {
			tree = tree.AddOrUpdate(k-100, struct{}{}, nil)
		}

		// WHEN
		keys := keysOf(tree)

		// THEN
		require.Len(t, keys, 200)
		for i := 1; i < len(keys); i++ {
			assert.Less(t, keys[i-1], keys[i])
		}
	})

	t.Run("it should stop iterating when asked to", func(t *testing.T) {
		// GIVEN
		var tree Tree[int]
		for i := range 10 {
			tree = tree.AddOrUpdate(i, i, nil)
		}

		// WHEN
		var seen []int
		for k := range tree.All() {
			if k == 3 {
				break
			}
			seen = append(seen, k)
		}

		// THEN
		assert.Equal(t, []int{0, 1, 2}, seen)
	})

	t.Run("it should remove keys and rebalance", func(t *testing.T) {
		// GIVEN
		var tree Tree[int]
		const n = 1_000
		for i := range n {
			tree = tree.AddOrUpdate(i, i, nil)
		}
		before := tree

		// WHEN
		for i := 0; i < n; i += 2 {
			tree = tree.Remove(i)
		}

		// THEN
		assert.Equal(t, n/2, tree.Len())
		assert.Equal(t, n, before.Len())
		assert.LessOrEqual(t, float64(tree.Height()), 1.45*math.Log2(n/2+2))
		for i := range n {
			_, found := tree.Get(i)
			assert.Equal(t, i%2 == 1, found, "key %d", i)
		}
	})

	t.Run("it should return the same tree when removing a missing key", func(t *testing.T) {
		// GIVEN
		tree := Tree[int]{}.AddOrUpdate(1, 1, nil)

		// WHEN
		after := tree.Remove(2)

		// THEN
		assert.Equal(t, tree, after)
	})
}
