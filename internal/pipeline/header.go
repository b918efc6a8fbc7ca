package pipeline

import (
	"errors"
	"strings"

	"libimport/internal/util"
)

// HeaderScanLines bounds how far from the top a header row is looked for.
const HeaderScanLines = 10

var (
	ErrNoHeader      = errors.New("header row not detected")
	ErrNoTitleColumn = errors.New("title column not identified")
)

var (
	titleKeywords     = keywordSet("TITLE", "BOOK TITLE", "NAME", "BOOK NAME")
	authorKeywords    = keywordSet("AUTHOR", "AUTHOR NAME")
	accessionKeywords = keywordSet("ACC#", "SRNO", "S#", "SR#", "SR NO")
)

// Columns holds positional indices into a data row; -1 means the column is absent.
type Columns struct {
	Title     int
	Author    int
	Accession int
}

// LocateHeader returns the index of the first of the top lines holding both a title-like
// and an author-like cell, plus that line's upper-cased cells. The split is a plain comma
// split; quoted commas in header rows are not expected.
func LocateHeader(lines []string) (int, []string) {
	limit := min(len(lines), HeaderScanLines)
	for i := 0; i < limit; i++ {
		parts := strings.Split(lines[i], ",")
		cells := make([]string, 0, len(parts))
		hasTitle, hasAuthor := false, false
		for _, part := range parts {
			cell := util.NormalizeHeaderCell(part)
			cells = append(cells, cell)
			if _, ok := titleKeywords[cell]; ok {
				hasTitle = true
			}
			if _, ok := authorKeywords[cell]; ok {
				hasAuthor = true
			}
		}
		if hasTitle && hasAuthor {
			return i, cells
		}
	}
	return -1, nil
}

// MapColumns resolves header cells to column roles. Every cell is visited, so when two
// cells match the same role the later one wins.
func MapColumns(header []string) (Columns, error) {
	cols := Columns{Title: -1, Author: -1, Accession: -1}
	for i, cell := range header {
		key := util.NormalizeColumnKey(cell)
		if _, ok := titleKeywords[key]; ok {
			cols.Title = i
		} else if _, ok := authorKeywords[key]; ok {
			cols.Author = i
		} else if _, ok := accessionKeywords[key]; ok {
			cols.Accession = i
		}
	}
	if cols.Title < 0 {
		return cols, ErrNoTitleColumn
	}
	return cols, nil
}

func isTitleKeyword(value string) bool {
	_, ok := titleKeywords[strings.ToUpper(value)]
	return ok
}

func keywordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
