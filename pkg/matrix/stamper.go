package matrix

// Stamper accumulates admittance contributions. Indices are 0-based node indices;
// repeated stamps into the same (i, j) are summed.
type Stamper interface {
	AddComplexElement(i, j int, value complex128)
}
