package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/analytics"
	"perpbot/internal/domain"
	"perpbot/internal/utils"
)

var (
	dbPath  = flag.String("db", "./data/perpbot.db", "path to the trade ledger database")
	days    = flag.Int("days", 30, "number of days to include")
	balance = flag.Float64("balance", 0, "balance at the start of the window, defaults to the latest snapshot capital minus the window's realized PnL")
	csvPath = flag.String("csv", "", "also export the records to this CSV file")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		log.Fatalf("Error opening ledger: %v", err)
	}
	defer repo.Close()

	since := time.Now().UTC().AddDate(0, 0, -*days)
	records, err := repo.FindSince(ctx, since)
	if err != nil {
		log.Fatalf("Error reading ledger: %v", err)
	}
	if len(records) == 0 {
		log.Printf("No closed trades since %s.", since.Format("2006-01-02"))
		return
	}

	initial := *balance
	if initial <= 0 {
		initial = startingBalance(ctx, repo, records)
	}
	perf := analytics.AnalyzePerformance(records, initial)

	printSummary(os.Stdout, since, perf)
	printBreakdown(os.Stdout, perf)

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(records, *csvPath); err != nil {
			log.Fatalf("Error writing CSV: %v", err)
		}
		fmt.Printf("\nExported %d records to %s\n", len(records), *csvPath)
	}
}

// startingBalance backs the window's realized PnL out of the latest snapshot.
func startingBalance(ctx context.Context, repo *sqlite.Repository, records []*domain.TradeRecord) float64 {
	snap, err := repo.LatestSnapshot(ctx)
	if err != nil || snap == nil {
		return 10000
	}
	realized := 0.0
	for _, r := range records {
		realized += r.RealizedPnL
	}
	return snap.Capital - realized
}

func printSummary(out io.Writer, since time.Time, m *analytics.PerformanceMetrics) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "## Ledger since %s\n", since.Format("2006-01-02"))
	fmt.Fprintf(w, "Closes\t%d (%d partial)\n", m.TotalTrades, m.PartialCloses)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Total PnL\t%.2f\n", m.TotalProfit)
	fmt.Fprintf(w, "Return\t%.2f%%\n", m.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Avg win / loss\t%.2f / %.2f\n", m.AverageWin, m.AverageLoss)
	fmt.Fprintf(w, "Avg PnL %%\t%.2f%%\n", m.AveragePnLPct)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Expectancy\t%.2f\n", m.Expectancy)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Recovery factor\t%.2f\n", m.RecoveryFactor)
	fmt.Fprintf(w, "Streaks (W/L)\t%d / %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Avg hold\t%s\n", m.AverageHold.Round(time.Minute))
	if m.BestTrade != nil {
		fmt.Fprintf(w, "Best\t%s %.2f\n", m.BestTrade.Symbol, m.BestTrade.RealizedPnL)
		fmt.Fprintf(w, "Worst\t%s %.2f\n", m.WorstTrade.Symbol, m.WorstTrade.RealizedPnL)
	}
	w.Flush()
}

func printBreakdown(out io.Writer, m *analytics.PerformanceMetrics) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)

	fmt.Fprintln(out, "\n## By close reason")
	fmt.Fprintln(w, "Reason\tCount\tPnL\t")
	reasons := make([]domain.CloseReason, 0, len(m.ByReason))
	for r := range m.ByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		s := m.ByReason[r]
		fmt.Fprintf(w, "%s\t%d\t%.2f\t\n", r, s.Count, s.PnL)
	}
	w.Flush()

	fmt.Fprintln(out, "\n## By side")
	fmt.Fprintln(w, "Side\tPnL\t")
	for _, side := range []domain.Side{domain.SideLong, domain.SideShort} {
		fmt.Fprintf(w, "%s\t%.2f\t\n", side, m.BySide[side])
	}
	w.Flush()

	fmt.Fprintln(out, "\n## Daily")
	fmt.Fprintln(w, "Day\tPnL\t")
	for _, d := range m.GetDailyReturns() {
		fmt.Fprintf(w, "%s\t%.2f\t\n", d.Day.Format("2006-01-02"), d.Return)
	}
	w.Flush()
}
