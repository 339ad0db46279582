// Package fractal estimates the fractal dimension of an elevation grid by
// box counting.
//
// The grid is min-max normalized to [0,1] and covered with square boxes whose
// sides are powers of two, from 4 up to the largest power of two strictly
// smaller than the shorter grid side. A box counts when the spread of values
// inside it exceeds a noise floor of one tenth of the normalized grid's
// standard deviation. The dimension is the negated slope of an ordinary least
// squares fit of log(count) against log(size); the fit's coefficient of
// determination is reported alongside it so callers can discard poor fits.
//
// # Failures
//
// Degenerate input never produces a number. Empty grids, grids that are
// entirely NaN and grids where fewer than two box sizes have a non-zero
// count all return errors that match ErrEstimate with errors.Is. Callers are
// expected to skip such grids rather than substitute a default.
//
// # Parallelism
//
// Estimator.Threads bounds how many box sizes are counted at once. Batch
// callers that already run one estimate per worker leave it at 1.
package fractal
