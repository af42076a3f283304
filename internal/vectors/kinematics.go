package vectors

// Speed returns the magnitude of a velocity vector, in the vector's units.
func Speed(velocity Vec3) float64 {
	return velocity.Norm()
}

// AverageSpeed returns the mean speed over every vector in t, or 0 for an
// empty table.
func AverageSpeed(t *Table) float64 {
	if t == nil || len(t.vectors) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t.vectors {
		sum += Speed(v.Velocity)
	}
	return sum / float64(len(t.vectors))
}
