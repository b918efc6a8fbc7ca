package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

var exportColumns = []string{"id", "title", "author", "category", "accessionNo", "publisher", "status", "dateAdded"}

// ExportBooksToXLSX writes catalog entries one per row. Fields other than the
// standard columns are left out.
func ExportBooksToXLSX(entries []map[string]any, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, entry := range entries {
		r := i + 2
		for c, key := range exportColumns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			_ = f.SetCellValue(sheet, cell, cellValue(entry[key]))
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func cellValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
