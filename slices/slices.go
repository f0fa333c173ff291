// Package slices complements the standard slices package with mapping helpers.
package slices

// Filter returns a new slice containing only the elements for which the predicate function returns true.
func Filter[T any](slice []T, predicate func(T) bool) []T {
	var result []T
	for _, item := range slice {
		if predicate(item) {
			result = append(result, item)
		}
	}
	return result
}

// Map transforms every element of a slice.
func Map[F any, T any](original []F, mapper func(F) T) []T {
	destination := make([]T, len(original))
	for i, item := range original {
		destination[i] = mapper(item)
	}
	return destination
}

// Appended returns a copy of slice with the items added, never sharing the backing array.
func Appended[T any](slice []T, items ...T) []T {
	out := make([]T, 0, len(slice)+len(items))
	out = append(out, slice...)
	return append(out, items...)
}
