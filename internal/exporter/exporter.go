// Package exporter renders the license register as an xlsx workbook for
// support and finance. Keys are masked; the workbook is a report, not a
// backup of the registry.
package exporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ssblic/internal/license"
)

const sheetName = "Licenses"

var headerRow = []interface{}{
	"Key", "Plan", "Tier", "Status", "Email", "Expires",
	"Bound Devices", "Device Limit", "Issued At", "Activated At", "Last Validated",
}

// WriteRegister writes the records as a single-sheet workbook to w.
func WriteRegister(w io.Writer, records []*license.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			license.MaskKey(rec.Key),
			rec.Plan,
			string(rec.Tier()),
			string(rec.Status),
			rec.Email,
			rec.Expires,
			strings.Join(rec.BoundDevices, ", "),
			license.DeviceLimit(rec.Plan),
			formatTime(rec.IssuedAt),
			formatTime(rec.ActivatedAt),
			formatTime(rec.LastOnlineOK),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
