// Package rotation selects per-recipient values from campaign rotation
// lists. Selection is a pure function of the recipient's snapshot position,
// so retries of the same delivery always resolve the same value.
package rotation

// Pick returns values[index % len(values)], or the zero value when the list
// is empty. A negative index selects the first element.
func Pick[T any](values []T, index int) T {
	var zero T
	if len(values) == 0 {
		return zero
	}
	if index < 0 {
		index = 0
	}
	return values[index%len(values)]
}

// PickOr returns the rotated value, or fallback when the list is empty.
func PickOr[T any](values []T, index int, fallback T) T {
	if len(values) == 0 {
		return fallback
	}
	return Pick(values, index)
}
