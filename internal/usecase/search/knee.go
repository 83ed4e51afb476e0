package search

// KneePoint returns the index of maximum curvature in a descending score
// sequence, the point where relevance drops off sharpest. Sequences shorter
// than 4 have no meaningful elbow; their length is returned instead.
//
// Curvature is approximated by the discrete second difference
// y[i-1] - 2*y[i] + y[i+1], evaluated over interior points only.
func KneePoint(scores []float64) int {
	n := len(scores)
	if n < 4 {
		return n
	}

	kneeIdx := 1
	maxCurvature := scores[0] - 2*scores[1] + scores[2]
	for i := 2; i < n-1; i++ {
		curvature := scores[i-1] - 2*scores[i] + scores[i+1]
		if curvature > maxCurvature {
			maxCurvature = curvature
			kneeIdx = i
		}
	}
	return kneeIdx
}
