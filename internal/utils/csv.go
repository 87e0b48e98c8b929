package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"perpbot/internal/domain"
)

var tradeHeader = []string{
	"id", "position_id", "symbol", "side", "entry_time", "exit_time",
	"entry_price", "exit_price", "quantity", "notional", "leverage",
	"realized_pnl", "pnl_pct", "close_reason", "confidence", "partial",
}

// WriteTrades writes ledger records as CSV rows with a header.
func WriteTrades(w io.Writer, records []*domain.TradeRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, r := range records {
		if r == nil {
			continue
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.PositionID,
			r.Symbol,
			string(r.Side),
			r.EntryTime.UTC().Format(time.RFC3339),
			r.ExitTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(r.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(r.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(r.Quantity, 'f', -1, 64),
			strconv.FormatFloat(r.Notional, 'f', 2, 64),
			strconv.Itoa(r.Leverage),
			strconv.FormatFloat(r.RealizedPnL, 'f', 2, 64),
			strconv.FormatFloat(r.PnLPct, 'f', 2, 64),
			string(r.CloseReason),
			strconv.FormatFloat(r.Confidence, 'f', 1, 64),
			strconv.FormatBool(r.Partial),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToCSV creates filename and writes the records into it.
func WriteTradesToCSV(records []*domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteTrades(file, records); err != nil {
		return err
	}
	return file.Close()
}
