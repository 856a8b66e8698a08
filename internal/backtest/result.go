package backtest

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/VeinDevTtv/vein-smc-bot/internal/engine"
	"github.com/VeinDevTtv/vein-smc-bot/internal/paper"
)

// Result contains backtest performance metrics
type Result struct {
	Bars          int     `json:"bars"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalProfit   float64 `json:"total_profit"`
	TotalLoss     float64 `json:"total_loss"`
	NetProfit     float64 `json:"net_profit"`
	ROI           float64 `json:"roi"` // Return on Investment %
	MaxDrawdown   float64 `json:"max_drawdown"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	FinalEquity   float64 `json:"final_equity"`

	Setups      engine.Stats  `json:"setups"`
	Trades      []paper.Trade `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}

// EquityPoint represents account equity at the close of a bar
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// calculateMetrics fills the trade statistics from Trades and EquityCurve
func calculateMetrics(result *Result, initialBalance, finalEquity float64) {
	result.TotalTrades = len(result.Trades)
	result.FinalEquity = finalEquity

	for _, trade := range result.Trades {
		if trade.PnL > 0 {
			result.WinningTrades++
			result.TotalProfit += trade.PnL
		} else {
			result.LosingTrades++
			result.TotalLoss += math.Abs(trade.PnL)
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = (float64(result.WinningTrades) / float64(result.TotalTrades)) * 100
	}
	if result.WinningTrades > 0 {
		result.AverageWin = result.TotalProfit / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = result.TotalLoss / float64(result.LosingTrades)
	}

	result.NetProfit = finalEquity - initialBalance
	if initialBalance > 0 {
		result.ROI = (result.NetProfit / initialBalance) * 100
	}
	if result.TotalLoss > 0 {
		result.ProfitFactor = result.TotalProfit / result.TotalLoss
	}

	result.MaxDrawdown = calculateMaxDrawdown(result.EquityCurve)
	result.SharpeRatio = calculateSharpeRatio(result.Trades, initialBalance)
}

// calculateMaxDrawdown returns the largest peak-to-trough equity drop in percent
func calculateMaxDrawdown(equityCurve []EquityPoint) float64 {
	if len(equityCurve) == 0 {
		return 0
	}

	maxDrawdown := 0.0
	peak := equityCurve[0].Equity

	for _, point := range equityCurve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := ((peak - point.Equity) / peak) * 100
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}

	return maxDrawdown
}

// calculateSharpeRatio is the mean over the standard deviation of per-trade
// returns on the initial balance, with a zero risk-free rate.
func calculateSharpeRatio(trades []paper.Trade, initialBalance float64) float64 {
	if len(trades) == 0 || initialBalance <= 0 {
		return 0
	}

	totalReturn := 0.0
	for _, trade := range trades {
		totalReturn += trade.PnL / initialBalance
	}
	avgReturn := totalReturn / float64(len(trades))

	variance := 0.0
	for _, trade := range trades {
		diff := trade.PnL/initialBalance - avgReturn
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(trades)))
	if stdDev == 0 {
		return 0
	}
	return avgReturn / stdDev
}

// Print writes a human readable summary
func (r *Result) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== BACKTEST RESULTS ===")
	fmt.Fprintf(w, "Bars: %d\n", r.Bars)
	fmt.Fprintf(w, "Setups: %d (displaced %d, submitted %d, filled %d)\n",
		r.Setups.Setups, r.Setups.Displacements, r.Setups.Submitted, r.Setups.Filled)
	fmt.Fprintf(w, "Rejected: score %d, size %d, broker %d\n",
		r.Setups.ScoreRejected, r.Setups.SizeRejected, r.Setups.Rejected)
	fmt.Fprintf(w, "Expired: %d, Invalidated: %d, Loss cap hits: %d\n",
		r.Setups.Expired, r.Setups.Invalidated, r.Setups.LossCapHits)
	fmt.Fprintf(w, "Total Trades: %d\n", r.TotalTrades)
	fmt.Fprintf(w, "Winning Trades: %d (%.1f%%)\n", r.WinningTrades, r.WinRate)
	fmt.Fprintf(w, "Losing Trades: %d\n", r.LosingTrades)
	fmt.Fprintf(w, "Net Profit: $%.2f\n", r.NetProfit)
	fmt.Fprintf(w, "ROI: %.2f%%\n", r.ROI)
	fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	fmt.Fprintf(w, "Max Drawdown: %.2f%%\n", r.MaxDrawdown)
	fmt.Fprintf(w, "Average Win: $%.2f\n", r.AverageWin)
	fmt.Fprintf(w, "Average Loss: $%.2f\n", r.AverageLoss)
	fmt.Fprintf(w, "Sharpe Ratio: %.2f\n", r.SharpeRatio)
	fmt.Fprintf(w, "Final Equity: $%.2f\n", r.FinalEquity)
}
