package audit

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Audit"

// WriteXLSX renders entries as a spreadsheet.
func WriteXLSX(rows []Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	header := []any{"Timestamp", "User", "Action", "Entity", "Entity ID", "Summary"}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []any{
			row.At.Format("2006-01-02 15:04:05"),
			row.UserID,
			string(row.Action),
			string(row.Kind),
			row.EntityID,
			row.Summary,
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(exportSheet, "F", "F", 80); err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("audit: write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
