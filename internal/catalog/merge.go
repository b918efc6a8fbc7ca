package catalog

import (
	"fmt"

	"libimport/internal"
)

type Paths struct {
	Catalog string
	Backup  string
}

type MergeResult struct {
	BackedUp bool
	Created  bool
	Existing int
	Added    int
	FirstID  int
	LastID   int
}

// Merge backs up the catalog, appends books with fresh ids and persists the result.
// Books get their final ids written back in place.
func Merge(paths Paths, books []internal.Book) (MergeResult, error) {
	backedUp, err := Backup(paths.Catalog, paths.Backup)
	if err != nil {
		return MergeResult{}, fmt.Errorf("backup catalog: %w", err)
	}

	state, exists, err := Load(paths.Catalog)
	if err != nil {
		return MergeResult{BackedUp: backedUp}, err
	}

	res := MergeResult{BackedUp: backedUp, Created: !exists, Existing: len(state.Books)}
	first, last, err := state.Append(books)
	if err != nil {
		return res, err
	}

	if err := Save(paths.Catalog, state); err != nil {
		return res, fmt.Errorf("save catalog: %w", err)
	}
	res.Added = len(books)
	res.FirstID = first
	res.LastID = last
	return res, nil
}
