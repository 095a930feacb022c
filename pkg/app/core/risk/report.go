package risk

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

// Export is the machine-readable form of the risk state.
type Export struct {
	Limits     types.RiskLimits      `json:"limits"`
	Metrics    Metrics               `json:"metrics"`
	Positions  []PositionRisk        `json:"positions"`
	Violations []types.RiskViolation `json:"violations"`
}

func (m *Manager) snapshot() Export {
	return Export{
		Limits:     m.GetRiskLimits(),
		Metrics:    m.GetRiskMetrics(),
		Positions:  m.GetPositionRisks(),
		Violations: m.GetViolations(),
	}
}

// ExportRiskData serialises limits, metrics, positions and violations.
func (m *Manager) ExportRiskData() ([]byte, error) {
	data, err := json.MarshalIndent(m.snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export risk data: %w", err)
	}
	return data, nil
}

// GenerateRiskReport renders a plain-text summary for operators.
func (m *Manager) GenerateRiskReport() string {
	s := m.snapshot()
	var b strings.Builder

	b.WriteString("=== Risk Report ===\n")
	fmt.Fprintf(&b, "Portfolio value:   %14.2f\n", s.Metrics.PortfolioValue)
	fmt.Fprintf(&b, "Total P&L:         %14.2f\n", s.Metrics.TotalPnL)
	fmt.Fprintf(&b, "Daily P&L:         %14.2f\n", s.Metrics.DailyPnL)
	fmt.Fprintf(&b, "Gross exposure:    %14.2f\n", s.Metrics.GrossExposure)
	fmt.Fprintf(&b, "Leverage:          %14.2fx\n", s.Metrics.Leverage)
	fmt.Fprintf(&b, "Drawdown cur/max:  %6.2f%% / %6.2f%%\n", s.Metrics.CurrentDrawdown*100, s.Metrics.MaxDrawdown*100)
	fmt.Fprintf(&b, "VaR 95/99:         %10.2f / %10.2f\n", s.Metrics.VaR95, s.Metrics.VaR99)
	fmt.Fprintf(&b, "Volatility:        %14.6f\n", s.Metrics.Volatility)
	fmt.Fprintf(&b, "Sharpe:            %14.4f\n", s.Metrics.SharpeRatio)
	fmt.Fprintf(&b, "Beta:              %14.4f\n", s.Metrics.Beta)

	fmt.Fprintf(&b, "\n--- Positions (%d) ---\n", len(s.Positions))
	for _, p := range s.Positions {
		fmt.Fprintf(&b, "%-12s qty=%12.4f mv=%14.2f upnl=%12.2f conc=%6.2f%% var95=%10.2f\n",
			p.Symbol, p.Quantity, p.MarketValue, p.UnrealizedPnL, p.Concentration*100, p.VaR95)
	}

	b.WriteString("\n--- Limits ---\n")
	fmt.Fprintf(&b, "max position %.2f, max daily loss %.2f, max drawdown %.2f%%, max leverage %.2fx\n",
		s.Limits.MaxPositionSize, s.Limits.MaxDailyLoss, s.Limits.MaxDrawdown*100, s.Limits.MaxLeverage)
	fmt.Fprintf(&b, "shorts=%t options=%t futures=%t\n",
		s.Limits.AllowShortSelling, s.Limits.AllowOptions, s.Limits.AllowFutures)

	if len(s.Violations) > 0 {
		fmt.Fprintf(&b, "\n--- Violations (%d) ---\n", len(s.Violations))
		for _, v := range s.Violations {
			fmt.Fprintf(&b, "%s %-20s %s\n", v.Timestamp.Format("15:04:05"), v.Type, v.Message)
		}
	}
	return b.String()
}
