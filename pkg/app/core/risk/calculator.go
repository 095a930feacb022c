package risk

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Conventional one-sided z-scores. Other levels fall back to the normal
// quantile function.
var zTable = map[float64]float64{
	0.90:  1.282,
	0.95:  1.645,
	0.975: 1.960,
	0.99:  2.326,
}

// ZScore returns the one-sided standard normal critical value for confidence.
func ZScore(confidence float64) float64 {
	if z, ok := zTable[confidence]; ok {
		return z
	}
	if confidence <= 0 || confidence >= 1 {
		return 0
	}
	return distuv.UnitNormal.Quantile(confidence)
}

// Standard deviations below this are treated as zero; float noise in a
// constant series must not produce a finite Sharpe ratio.
const sdEpsilon = 1e-12

func validConfidence(c float64) bool { return c > 0 && c < 1 }

func meanStdDev(x []float64) (mean, sd float64) {
	mean, sd = stat.MeanStdDev(x, nil)
	if sd < sdEpsilon {
		sd = 0
	}
	return mean, sd
}

// lowerQuantile returns the empirical (1-confidence) quantile of returns.
func lowerQuantile(returns []float64, confidence float64) float64 {
	sorted := slices.Clone(returns)
	slices.Sort(sorted)
	return stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
}

// HistoricalVaR is the loss at the (1-confidence) empirical quantile of
// returns, scaled by value. Gains never produce a negative VaR.
func HistoricalVaR(returns []float64, confidence, value float64) float64 {
	if len(returns) == 0 || !validConfidence(confidence) {
		return 0
	}
	return math.Max(0, -lowerQuantile(returns, confidence)) * value
}

// ParametricVaR assumes normally distributed returns: mean - z·σ.
func ParametricVaR(returns []float64, confidence, value float64) float64 {
	if len(returns) < 2 || !validConfidence(confidence) {
		return 0
	}
	mean, sd := meanStdDev(returns)
	return math.Max(0, -(mean-ZScore(confidence)*sd)) * value
}

// MonteCarloVaR draws samples from a normal fitted to returns and takes the
// empirical quantile of the draws. The same seed gives the same result.
func MonteCarloVaR(returns []float64, confidence, value float64, samples int, seed uint64) float64 {
	if len(returns) < 2 || samples <= 0 || !validConfidence(confidence) {
		return 0
	}
	mean, sd := meanStdDev(returns)
	if sd == 0 {
		return math.Max(0, -mean) * value
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sim := make([]float64, samples)
	for i := range sim {
		sim[i] = mean + sd*rng.NormFloat64()
	}
	return math.Max(0, -lowerQuantile(sim, confidence)) * value
}

// ExpectedShortfall is the mean loss of returns at or beyond the historical
// VaR quantile, scaled by value.
func ExpectedShortfall(returns []float64, confidence, value float64) float64 {
	if len(returns) == 0 || !validConfidence(confidence) {
		return 0
	}
	q := lowerQuantile(returns, confidence)
	var sum float64
	var n int
	for _, r := range returns {
		if r <= q {
			sum += r
			n++
		}
	}
	return math.Max(0, -sum/float64(n)) * value
}

// Volatility is the sample standard deviation of returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	_, sd := meanStdDev(returns)
	return sd
}

// EWMAVolatility weights the k-th most recent squared return by lambda^k
// around a zero mean. The last element is the most recent.
func EWMAVolatility(returns []float64, lambda float64) float64 {
	if len(returns) == 0 || lambda <= 0 || lambda > 1 {
		return 0
	}
	var num, den float64
	w := 1.0
	for i := len(returns) - 1; i >= 0; i-- {
		num += w * returns[i] * returns[i]
		den += w
		w *= lambda
	}
	return math.Sqrt(num / den)
}

// Correlation is the Pearson correlation of the overlapping tails of x and y.
func Correlation(x, y []float64) float64 {
	x, y = alignTails(x, y)
	if len(x) < 2 {
		return 0
	}
	if stat.Variance(x, nil) < sdEpsilon*sdEpsilon || stat.Variance(y, nil) < sdEpsilon*sdEpsilon {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Beta is cov(x, market) / var(market) over the overlapping tails.
func Beta(x, market []float64) float64 {
	x, market = alignTails(x, market)
	if len(x) < 2 {
		return 0
	}
	v := stat.Variance(market, nil)
	if v < sdEpsilon*sdEpsilon {
		return 0
	}
	return stat.Covariance(x, market, nil) / v
}

func alignTails(x, y []float64) ([]float64, []float64) {
	n := min(len(x), len(y))
	return x[len(x)-n:], y[len(y)-n:]
}

// SharpeRatio is (mean - riskFree) / σ per period, not annualised.
func SharpeRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, sd := meanStdDev(returns)
	if sd == 0 {
		return 0
	}
	return (mean - riskFree) / sd
}

// MaxDrawdown is the largest peak-to-subsequent-trough decline of values,
// as a fraction of the peak.
func MaxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst
}

// CurrentDrawdown is the decline of the last value from the running peak.
func CurrentDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := slices.Max(values)
	if peak <= 0 {
		return 0
	}
	return (peak - values[len(values)-1]) / peak
}

// KellyCriterion returns f* = w - (1-w)/(avgWin/avgLoss) clamped to [0, 1].
// avgLoss is a magnitude.
func KellyCriterion(winRate, avgWin, avgLoss float64) float64 {
	if avgWin <= 0 || avgLoss <= 0 || winRate <= 0 {
		return 0
	}
	f := winRate - (1-winRate)/(avgWin/avgLoss)
	return math.Min(1, math.Max(0, f))
}

// OptimalPositionSize allocates capital by Kelly, capped at maxFraction.
// A non-positive maxFraction means no cap beyond Kelly's own.
func OptimalPositionSize(capital, winRate, avgWin, avgLoss, maxFraction float64) float64 {
	f := KellyCriterion(winRate, avgWin, avgLoss)
	if maxFraction > 0 {
		f = math.Min(f, maxFraction)
	}
	return capital * f
}

// Returns converts a value series into simple period returns.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}
