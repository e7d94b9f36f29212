package utils

func RefPointer[T any](v T) *T {
	return &v
}

// DerefPointer returns the pointed-to value, or the zero value for nil.
func DerefPointer[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
