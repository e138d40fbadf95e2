// Package partition splits work lists into disjoint per-worker shards.
package partition

import "fmt"

// Check validates a shard coordinate.
func Check(index, count int) error {
	if count < 1 {
		return fmt.Errorf("shard count must be >= 1, got %d", count)
	}
	if index < 0 || index >= count {
		return fmt.Errorf("shard index %d out of range [0, %d)", index, count)
	}
	return nil
}

// Shard returns items[i] for every i with i mod count == index, in order.
// Over index 0..count-1 the shards cover items exactly once.
// It panics on an invalid coordinate; use Check for untrusted input.
func Shard[T any](items []T, index, count int) []T {
	if err := Check(index, count); err != nil {
		panic(err)
	}
	out := make([]T, 0, len(items)/count+1)
	for i := index; i < len(items); i += count {
		out = append(out, items[i])
	}
	return out
}

// Owner returns the shard index that Shard assigns position i to.
func Owner(i, count int) int {
	if count < 1 {
		return 0
	}
	return i % count
}
