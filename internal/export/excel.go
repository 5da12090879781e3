// Package export writes a canonical set out for analysts: an Excel workbook,
// an evidence log, a data quality report and the run log.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/steveyegge/dealfinder/internal/types"
)

// SheetName is the workbook sheet holding the deals.
const SheetName = "Deals"

// maxColumnWidth caps auto-sized column widths.
const maxColumnWidth = 50

// Headers lists the workbook columns in order.
var Headers = []string{
	"Date Announced",
	"Target / Partner",
	"Acquirer / Partner",
	"Upfront Value (M USD)",
	"Contingent Payment (M USD)",
	"Total Deal Value (M USD)",
	"Upfront as % of Total Value",
	"Phase of Lead Asset at Announcement",
	"Therapeutic Area",
	"Secondary Areas",
	"Asset / Focus",
	"Deal Type (M&A or Partnership)",
	"Geography of Target",
	"Source URL",
	"Needs Review",
	"Review Decision",
}

// Row converts a record into workbook cell values. Missing money stays nil
// so the cell is left blank.
func Row(r *types.DealRecord, decision *types.ReviewDecision) []any {
	needsReview := "FALSE"
	if r.NeedsReview {
		needsReview = "TRUE"
	}
	verdict := ""
	if decision != nil {
		verdict = string(decision.Decision)
	}
	return []any{
		r.DateAnnounced,
		r.Target,
		r.Acquirer,
		floatCell(r.Money.UpfrontUSD),
		floatCell(r.Money.ContingentUSD),
		floatCell(r.Money.TotalUSD),
		floatCell(r.Money.UpfrontPct()),
		string(r.Stage),
		r.TherapeuticArea,
		"",
		r.AssetFocus,
		r.DealType.OutputLabel(),
		r.Geography,
		r.SourceURL,
		needsReview,
		verdict,
	}
}

func floatCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// WriteExcel writes records to an xlsx workbook at path. Decisions are keyed
// by canonical key and may be nil.
func WriteExcel(path string, records []*types.DealRecord, decisions map[string]types.ReviewDecision) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	widths := make([]int, len(Headers))
	for i, h := range Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		widths[i] = len(h)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(Headers), 1)
	if err := f.SetCellStyle(SheetName, "A1", lastHeader, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	dateFmt := "yyyy-mm-dd"
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt})
	if err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}

	for i, r := range records {
		var decision *types.ReviewDecision
		if d, ok := decisions[r.CanonicalKey()]; ok {
			decision = &d
		}
		row := Row(r, decision)
		rowNum := i + 2
		start, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, start, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowNum, err)
		}
		if err := f.SetCellStyle(SheetName, start, start, dateStyle); err != nil {
			return fmt.Errorf("failed to style date cell: %w", err)
		}
		for j, v := range row {
			w := len(cellText(v))
			if j == 0 {
				w = len(types.DateLayout)
			}
			if w > widths[j] {
				widths[j] = w
			}
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func cellText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
