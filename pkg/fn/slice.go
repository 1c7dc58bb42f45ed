package fn

// Map applies f to each element.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, v := range items {
		out[i] = f(v)
	}
	return out
}

// Sum adds up f over items.
func Sum[T any, N int | int64 | float64](items []T, f func(T) N) N {
	var total N
	for _, v := range items {
		total += f(v)
	}
	return total
}
