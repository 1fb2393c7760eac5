// Package export renders a user's call analytics as an Excel workbook.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/xuri/excelize/v2"
)

const (
	SheetCalls = "Calls"
	SheetRaw   = "Raw"
)

// Columns of the Calls sheet
var Columns = []string{
	"call_id",
	"call_status",
	"start",
	"end",
	"duration_ms",
	"disconnection_reason",
	"sentiment",
	"successful",
	"summary",
}

// WriteAnalytics writes one row per call, ordered by call ID, plus a Raw
// sheet holding every record as JSON.
func WriteAnalytics(w io.Writer, userID string, analytics map[string]types.AnalyticsRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCalls); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetRaw); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}
	f.SetDocProps(&excelize.DocProperties{
		Title:   "Call analytics",
		Subject: userID,
		Creator: "hostline",
	})

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetCalls, "A1", &header); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetRaw, "A1", &[]any{"call_id", "record"}); err != nil {
		return err
	}

	callIDs := make([]string, 0, len(analytics))
	for id := range analytics {
		callIDs = append(callIDs, id)
	}
	slices.Sort(callIDs)

	for i, callID := range callIDs {
		rec := analytics[callID]
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}

		row := callRow(callID, rec)
		if err := f.SetSheetRow(SheetCalls, cell, &row); err != nil {
			return fmt.Errorf("failed to write call %s: %w", callID, err)
		}

		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode call %s: %w", callID, err)
		}
		if err := f.SetSheetRow(SheetRaw, cell, &[]any{callID, string(raw)}); err != nil {
			return fmt.Errorf("failed to write raw call %s: %w", callID, err)
		}
	}

	if err := f.SetColWidth(SheetCalls, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetCalls, "I", "I", 80); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func callRow(callID string, rec types.AnalyticsRecord) []any {
	analysis, _ := rec["call_analysis"].(map[string]any)
	return []any{
		callID,
		str(rec["call_status"]),
		timestamp(rec["start_timestamp"]),
		timestamp(rec["end_timestamp"]),
		str(rec["duration_ms"]),
		str(rec["disconnection_reason"]),
		str(analysis["user_sentiment"]),
		str(analysis["call_successful"]),
		str(analysis["call_summary"]),
	}
}

// str renders scalar values; anything missing is blank
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// timestamp renders epoch milliseconds as RFC3339
func timestamp(v any) string {
	var ms int64
	switch t := v.(type) {
	case float64:
		ms = int64(t)
	case int64:
		ms = t
	case int:
		ms = int64(t)
	case string:
		return t
	default:
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
