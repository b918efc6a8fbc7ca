package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"libimport/internal"
	"libimport/internal/util"
)

// Stamp carries the values shared by every record extracted from one file.
type Stamp struct {
	Category  string
	DateAdded string
	// Prefix makes placeholders unique across the files of a run.
	Prefix string
}

// ExtractBooks walks the rows after the header line with a quote-aware CSV reader.
// The returned sequence reads lazily and can be consumed only once.
func ExtractBooks(text string, headerIdx int, cols Columns, stamp Stamp) iter.Seq[internal.Book] {
	r := csv.NewReader(strings.NewReader(dataSection(text, headerIdx)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	emitted := 0
	return func(yield func(internal.Book) bool) {
		for {
			row, err := r.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					continue
				}
				return
			}

			book, ok := rowToBook(row, cols)
			if !ok {
				continue
			}
			book.Category = stamp.Category
			book.DateAdded = stamp.DateAdded
			book.Placeholder = fmt.Sprintf("%s-%d", stamp.Prefix, emitted)
			emitted++
			if !yield(book) {
				return
			}
		}
	}
}

func rowToBook(row []string, cols Columns) (internal.Book, bool) {
	if len(row) == 0 || len(row) <= cols.Title {
		return internal.Book{}, false
	}
	title := util.CleanText(row[cols.Title])
	// a header repeated mid-file, e.g. sheets pasted one after another
	if title == internal.NA || isTitleKeyword(title) {
		return internal.Book{}, false
	}
	return internal.Book{
		Title:       title,
		Author:      util.CleanCell(row, cols.Author),
		AccessionNo: util.CleanCell(row, cols.Accession),
		Publisher:   internal.NA,
		Status:      internal.StatusAvailable,
	}, true
}

func dataSection(text string, headerIdx int) string {
	lines := splitRawLines(text)
	if headerIdx < 0 || headerIdx+1 >= len(lines) {
		return ""
	}
	return strings.Join(lines[headerIdx+1:], "\n")
}

// splitRawLines keeps blank lines so indices match the file's line numbers.
func splitRawLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
