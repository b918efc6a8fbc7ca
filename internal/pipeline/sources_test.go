package pipeline

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"libimport/internal"
)

func mkXLSX(t *testing.T, sheets map[string][][]any, order []string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				t.Fatal(err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatal(err)
		}
		for r, row := range sheets[name] {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
				_ = f.SetCellValue(name, cell, v)
			}
		}
	}
	buf := bytes.NewBuffer(nil)
	if _, err := f.WriteTo(buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, blob []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadSourceXLSXConcatenatesSheets(t *testing.T) {
	blob := mkXLSX(t, map[string][][]any{
		"Shelf A": {
			{"Botany register"},
			{"Acc#", "Title", "Author"},
			{101, "Plant Anatomy", "Esau"},
		},
		"Shelf B": {
			{"Acc#", "Title", "Author"},
			{102, "Mycology, Vol 1", "Alexopoulos"},
		},
	}, []string{"Shelf A", "Shelf B"})
	path := writeFile(t, t.TempDir(), "BOTANY.xlsx", blob)

	text, format, err := ReadSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != internal.FormatXLSX {
		t.Fatalf("format=%s", format)
	}

	books := extractSample(t, text)
	if len(books) != 2 {
		t.Fatalf("books=%+v", books)
	}
	if books[0].AccessionNo != "101" || books[1].Title != "Mycology, Vol 1" {
		t.Fatalf("books=%+v", books)
	}
}

func TestReadSourceXLSXPaddedHeader(t *testing.T) {
	blob := mkXLSX(t, map[string][][]any{
		"Sheet1": {
			{" Title", "Author ", "Acc#"},
			{"  Plant   Anatomy ", "Esau", 101},
			{"Genetics\nVol 2", "Strickberger", 102},
		},
	}, []string{"Sheet1"})
	path := writeFile(t, t.TempDir(), "BOTANY.xlsx", blob)

	text, _, err := ReadSource(path)
	if err != nil {
		t.Fatal(err)
	}
	idx, header := LocateHeader(splitRawLines(text))
	if idx != 0 || strings.Join(header, "|") != "TITLE|AUTHOR|ACC#" {
		t.Fatalf("idx=%d header=%v text=%q", idx, header, text)
	}

	books := extractSample(t, text)
	if len(books) != 2 || books[0].Title != "Plant Anatomy" || books[1].Title != "Genetics Vol 2" {
		t.Fatalf("books=%+v", books)
	}
}

func TestCollectSheetRowsFailsOnUnreadableSheet(t *testing.T) {
	readErr := errors.New("broken sheet xml")
	_, err := collectSheetRows([]string{"Good", "Bad"}, func(sheet string) ([][]string, error) {
		if sheet == "Bad" {
			return nil, readErr
		}
		return [][]string{{"Title", "Author"}}, nil
	})
	if !errors.Is(err, readErr) || !strings.Contains(err.Error(), `"Bad"`) {
		t.Fatalf("err=%v", err)
	}
}

func TestReadSourceHTML(t *testing.T) {
	html := `<html><body><h1>Chemistry shelf</h1>
<table>
<tr><th>Sr No</th><th>Book Name</th><th>Author</th></tr>
<tr><td>1</td><td>  Organic
   Chemistry </td><td>Morrison</td></tr>
<tr><td>2</td><td></td><td>Blank</td></tr>
</table></body></html>`
	path := writeFile(t, t.TempDir(), "Chemistry.html", []byte(html))

	text, format, err := ReadSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != internal.FormatHTML {
		t.Fatalf("format=%s", format)
	}
	books := extractSample(t, text)
	if len(books) != 1 || books[0].Title != "Organic Chemistry" || books[0].AccessionNo != "1" {
		t.Fatalf("books=%+v", books)
	}
}

func TestReadSourceTextDropsBOMAndBadBytes(t *testing.T) {
	blob := append([]byte("\xef\xbb\xbfTitle,Author\n"), []byte("Caf\xe9,X\n")...)
	path := writeFile(t, t.TempDir(), "cafe.csv", blob)

	text, format, err := ReadSource(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != internal.FormatText {
		t.Fatalf("format=%s", format)
	}
	if !strings.HasPrefix(text, "Title,Author") {
		t.Fatalf("bom kept: %q", text)
	}
	if !strings.Contains(text, "Caf\uFFFD,X") {
		t.Fatalf("invalid byte not replaced: %q", text)
	}
}

func TestReadSourceMissingFile(t *testing.T) {
	if _, _, err := ReadSource(filepath.Join(t.TempDir(), "gone.csv")); err == nil {
		t.Fatal("expected error")
	}
}
