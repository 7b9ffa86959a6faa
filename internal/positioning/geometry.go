package positioning

import "math"

// Remainders of dr1²-x² this close to zero are treated as collinear.
const collinearTolerance = 1e-9

// CalculateCoordinates places reference point 0 at the origin and reference
// point 1 at (d, 0) and returns the position of a tag at distance dr1 from
// the first and dr2 from the second. Only the positive root is taken, so a
// tag on the far side of the baseline is mirrored onto the near side.
func CalculateCoordinates(dr1, dr2, d float64) (int, int, error) {
	for _, v := range [...]float64{dr1, dr2, d} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, geometryFault("non-finite distance (dr1=%v dr2=%v d=%v)", dr1, dr2, d)
		}
		if v < 0 {
			return 0, 0, geometryFault("negative distance (dr1=%v dr2=%v d=%v)", dr1, dr2, d)
		}
	}
	if d == 0 {
		return 0, 0, geometryFault("reference points coincide (d=0)")
	}

	x := (dr1*dr1 - dr2*dr2 + d*d) / (2 * d)
	ySq := dr1*dr1 - x*x
	if ySq < 0 {
		if -ySq > collinearTolerance*math.Max(1, dr1*dr1) {
			return 0, 0, geometryFault("no real solution (dr1=%v dr2=%v d=%v)", dr1, dr2, d)
		}
		ySq = 0
	}

	return int(math.Round(x)), int(math.Round(math.Sqrt(ySq))), nil
}
