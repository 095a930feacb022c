// Command riskcalc prints risk statistics for a series of portfolio values
// or returns, read from the arguments or from stdin.
//
//	riskcalc -value 100000 0.01 -0.02 0.005
//	cat equity.txt | riskcalc -values
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/uhyunpark/matchcore/pkg/app/core/risk"
)

func main() {
	value := flag.Float64("value", 100000, "portfolio value VaR is scaled to")
	values := flag.Bool("values", false, "inputs are portfolio values, not returns")
	samples := flag.Int("samples", 10000, "Monte Carlo samples")
	seed := flag.Uint64("seed", 1, "Monte Carlo seed")
	flag.Parse()

	var (
		series []float64
		err    error
	)
	if flag.NArg() > 0 {
		series, err = parse(strings.NewReader(strings.Join(flag.Args(), " ")))
	} else {
		series, err = parse(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	returns := series
	if *values {
		fmt.Printf("Max drawdown:       %10.4f%%\n", risk.MaxDrawdown(series)*100)
		fmt.Printf("Current drawdown:   %10.4f%%\n", risk.CurrentDrawdown(series)*100)
		returns = risk.Returns(series)
	}
	if len(returns) < 2 {
		fmt.Fprintln(os.Stderr, "Error: need at least two returns")
		os.Exit(1)
	}

	fmt.Printf("Observations:       %10d\n", len(returns))
	fmt.Printf("Volatility:         %10.6f\n", risk.Volatility(returns))
	fmt.Printf("EWMA volatility:    %10.6f\n", risk.EWMAVolatility(returns, 0.94))
	fmt.Printf("Sharpe:             %10.4f\n", risk.SharpeRatio(returns, 0))
	for _, c := range []float64{0.95, 0.99} {
		fmt.Printf("VaR %.0f%% hist/param/mc: %.2f / %.2f / %.2f\n", c*100,
			risk.HistoricalVaR(returns, c, *value),
			risk.ParametricVaR(returns, c, *value),
			risk.MonteCarloVaR(returns, c, *value, *samples, *seed))
		fmt.Printf("ES  %.0f%%:             %.2f\n", c*100, risk.ExpectedShortfall(returns, c, *value))
	}
}

func parse(r io.Reader) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var out []float64
	for sc.Scan() {
		f, err := strconv.ParseFloat(strings.TrimSuffix(sc.Text(), ","), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, sc.Err()
}
