package audit

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	rows := []Entry{entryAt(5, "2024-03-10T10:00:00Z")}
	rows[0].Summary = "[EDIT] Total: 100.00 -> 118.00"

	data, err := WriteXLSX(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	header, err := f.GetCellValue(exportSheet, "A1")
	require.NoError(t, err)
	require.Equal(t, "Timestamp", header)

	summary, err := f.GetCellValue(exportSheet, "F2")
	require.NoError(t, err)
	require.Equal(t, "[EDIT] Total: 100.00 -> 118.00", summary)

	kind, err := f.GetCellValue(exportSheet, "D2")
	require.NoError(t, err)
	require.Equal(t, "Document", kind)
}
