package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"libimport/internal"
	"libimport/internal/util"
)

var utf8BOM = []byte("\xef\xbb\xbf")

func detectFormat(name string) internal.SourceFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return internal.FormatXLSX
	case ".html", ".htm":
		return internal.FormatHTML
	default:
		return internal.FormatText
	}
}

// ReadSource returns the file as comma-delimited text, whatever the on-disk format.
func ReadSource(path string) (string, internal.SourceFormat, error) {
	format := detectFormat(path)
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", format, err
	}

	switch format {
	case internal.FormatXLSX:
		text, err := xlsxToText(blob)
		return text, format, err
	case internal.FormatHTML:
		text, err := htmlToText(blob)
		return text, format, err
	default:
		return decodeText(blob), format, nil
	}
}

func decodeText(blob []byte) string {
	blob = bytes.TrimPrefix(blob, utf8BOM)
	return strings.ToValidUTF8(string(blob), "\uFFFD")
}

// xlsxToText concatenates every sheet in workbook order. A sheet that cannot be read
// fails the whole file.
func xlsxToText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer f.Close()

	rows, err := collectSheetRows(f.GetSheetList(), func(sheet string) ([][]string, error) {
		return f.GetRows(sheet)
	})
	if err != nil {
		return "", err
	}
	return rowsToText(rows)
}

// collectSheetRows joins the sheets' rows with cells whitespace-compacted, so a padded or
// wrapped header cell renders as a bare field.
func collectSheetRows(sheets []string, getRows func(string) ([][]string, error)) ([][]string, error) {
	rows := [][]string{}
	for _, sheet := range sheets {
		sheetRows, err := getRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range sheetRows {
			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = util.CompactSpaces(cell)
			}
			rows = append(rows, cells)
		}
	}
	return rows, nil
}

func htmlToText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}

	rows := [][]string{}
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := []string{}
			tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, util.CompactSpaces(cell.Text()))
			})
			rows = append(rows, cells)
		})
	})
	return rowsToText(rows)
}

func rowsToText(rows [][]string) (string, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
