package hungarian

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Solve computes the minimum-cost assignment for a dense cost matrix with
// r rows and c columns, r <= c. assignment[i] holds the column assigned to
// row i; total is the sum of the selected costs.
func Solve(cost mat.Matrix) (assignment []int, total float64, err error) {
	r, c := cost.Dims()
	if r == 0 || c == 0 {
		return nil, 0, ErrEmpty
	}
	if r > c {
		return nil, 0, ErrShape
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := cost.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, 0, ErrNotFinite
			}
		}
	}

	// 1-based arrays with index 0 as the virtual start column.
	// u, v are the row/column potentials; colRow[j] is the row currently
	// assigned to column j (0 = unassigned).
	u := make([]float64, r+1)
	v := make([]float64, c+1)
	colRow := make([]int, c+1)
	way := make([]int, c+1)

	for i := 1; i <= r; i++ {
		colRow[0] = i
		j0 := 0
		minv := make([]float64, c+1)
		used := make([]bool, c+1)
		for j := range minv {
			minv[j] = math.Inf(1)
		}

		// Grow the alternating tree from row i until a free column is found.
		for {
			used[j0] = true
			i0 := colRow[j0]
			j1 := 0
			delta := math.Inf(1)

			for j := 1; j <= c; j++ {
				if used[j] {
					continue
				}
				cur := cost.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= c; j++ {
				if used[j] {
					u[colRow[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if colRow[j0] == 0 {
				break
			}
		}

		// Augment along the recorded path back to the start.
		for j0 != 0 {
			j1 := way[j0]
			colRow[j0] = colRow[j1]
			j0 = j1
		}
	}

	assignment = make([]int, r)
	for j := 1; j <= c; j++ {
		if colRow[j] != 0 {
			assignment[colRow[j]-1] = j - 1
		}
	}
	for i, j := range assignment {
		total += cost.At(i, j)
	}
	return assignment, total, nil
}
