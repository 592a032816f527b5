// Package hungarian solves the linear assignment problem on a dense cost
// matrix: given r workers and c jobs (r <= c) with cost[i][j] the price of
// giving job j to worker i, find the assignment of one distinct job per
// worker that minimizes the total cost.
//
// The implementation is the shortest-augmenting-path formulation of the
// Hungarian algorithm with row/column potentials, running in O(r*c*c) time
// and O(c) extra memory per row. Results are deterministic: cost ties are
// broken toward the lower column index.
//
// Matrices with more rows than columns are rejected with ErrShape; callers
// with rectangular or infeasible problems pad the matrix to shape with a
// large finite sentinel cost first, which keeps the solver total-ordering
// deterministic instead of erroring mid-frame. Non-finite entries are
// rejected with ErrNotFinite.
package hungarian
