package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"libimport/internal"
	"libimport/internal/catalog"
	"libimport/internal/config"
	"libimport/internal/storage"
)

var ErrScratchDirMissing = errors.New("scratch directory not found")

type ImportService struct {
	db         *storage.DB
	cfg        config.Config
	classifier *Classifier
	out        io.Writer
	now        func() time.Time
}

// NewImportService builds the importer; db may be nil, in which case runs are not recorded.
func NewImportService(db *storage.DB, cfg config.Config, classifier *Classifier) *ImportService {
	return &ImportService{db: db, cfg: cfg, classifier: classifier, out: os.Stdout, now: time.Now}
}

// SetOutput redirects diagnostics.
func (s *ImportService) SetOutput(w io.Writer) {
	s.out = w
}

type RunOptions struct {
	DryRun bool
	// Only restricts the run to these files instead of scanning the scratch directory.
	Only []string
}

type RunResult struct {
	TraceID string
	Files   []internal.FileResult
	Books   []internal.Book
	Merge   catalog.MergeResult
}

// Run imports every accepted file of the scratch directory and merges the records into
// the catalog. Only a missing scratch directory or a failed catalog write fails the run.
func (s *ImportService) Run(opts RunOptions) (RunResult, error) {
	started := s.now()
	traceID := ulid.Make().String()

	var books []internal.Book
	var files []internal.FileResult
	var err error
	if len(opts.Only) > 0 {
		books, files = s.CollectFiles(opts.Only, traceID)
	} else {
		books, files, err = s.CollectDir(s.cfg.ScratchDir, traceID)
	}
	if err != nil {
		return RunResult{TraceID: traceID}, err
	}
	res := RunResult{TraceID: traceID, Files: files, Books: books}

	if opts.DryRun {
		fmt.Fprintf(s.out, "dry run done files=%d books=%d\n", len(files), len(books))
		s.record(started, res, opts, nil)
		return res, nil
	}

	fmt.Fprintf(s.out, "adding books=%d catalog=%s\n", len(books), s.cfg.CatalogPath)
	merge, err := catalog.Merge(catalog.Paths{Catalog: s.cfg.CatalogPath, Backup: s.cfg.CatalogBackupPath}, books)
	res.Merge = merge
	if merge.BackedUp {
		fmt.Fprintf(s.out, "backup created path=%s\n", s.cfg.CatalogBackupPath)
	} else if merge.Created {
		fmt.Fprintf(s.out, "warning: catalog not found path=%s, a new one will be created\n", s.cfg.CatalogPath)
	}
	s.record(started, res, opts, err)
	if err != nil {
		return res, err
	}
	s.markAttachments(files)

	fmt.Fprintf(s.out, "import done trace=%s files=%d books=%d first_id=%d last_id=%d\n", traceID, len(files), merge.Added, merge.FirstID, merge.LastID)
	return res, nil
}

// CollectDir runs every accepted file of dir through the pipeline, in file-name order.
// Per-file failures end up in the results; only a missing directory is an error.
func (s *ImportService) CollectDir(dir, runID string) ([]internal.Book, []internal.FileResult, error) {
	paths, err := s.DiscoverFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	books, results := s.CollectFiles(paths, runID)
	return books, results, nil
}

// CollectFiles processes the given files in file-name order.
func (s *ImportService) CollectFiles(paths []string, runID string) ([]internal.Book, []internal.FileResult) {
	paths = slices.Clone(paths)
	slices.SortFunc(paths, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})

	all := []internal.Book{}
	results := make([]internal.FileResult, 0, len(paths))
	for i, path := range paths {
		books, result := s.ProcessFile(path, fmt.Sprintf("%s-%d", runID, i))
		all = append(all, books...)
		results = append(results, result)
	}
	return all, results
}

// DiscoverFiles is a flat scan; subdirectories are not entered.
func (s *ImportService) DiscoverFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrScratchDirMissing, dir)
	}
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !s.cfg.Accepts(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out, nil
}

// ProcessFile classifies, locates the header, maps columns and extracts the books of one file.
func (s *ImportService) ProcessFile(path, prefix string) ([]internal.Book, internal.FileResult) {
	name := filepath.Base(path)
	result := internal.FileResult{Path: path, File: name, HeaderLine: -1, Category: s.classifier.Classify(name)}
	fmt.Fprintf(s.out, "processing file=%s\n", name)

	text, format, err := ReadSource(path)
	result.Format = format
	if err != nil {
		return nil, s.skip(result, internal.FileUnreadable, err)
	}

	headerIdx, header := LocateHeader(splitRawLines(text))
	if headerIdx < 0 {
		return nil, s.skip(result, internal.FileNoHeader, ErrNoHeader)
	}
	result.HeaderLine = headerIdx
	result.Header = header
	fmt.Fprintf(s.out, "  category=%q header_line=%d header=%s\n", result.Category, headerIdx+1, strings.Join(header, "|"))

	cols, err := MapColumns(header)
	if err != nil {
		return nil, s.skip(result, internal.FileNoTitle, err)
	}

	stamp := Stamp{Category: result.Category, DateAdded: s.now().Format(internal.DateLayout), Prefix: prefix}
	books := []internal.Book{}
	for book := range ExtractBooks(text, headerIdx, cols, stamp) {
		books = append(books, book)
	}

	result.Records = len(books)
	result.Status = internal.FileImported
	fmt.Fprintf(s.out, "  extracted books=%d\n", len(books))
	return books, result
}

func (s *ImportService) skip(result internal.FileResult, status internal.FileStatus, err error) internal.FileResult {
	result.Status = status
	result.Reason = err.Error()
	fmt.Fprintf(s.out, "  skipping file=%s status=%s reason=%q\n", result.File, status, result.Reason)
	return result
}

// markAttachments closes out mail attachments among the processed files so the
// listener does not hand them in again.
func (s *ImportService) markAttachments(files []internal.FileResult) {
	if s.db == nil {
		return
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	if err := s.db.MarkAttachmentsImported(paths); err != nil {
		fmt.Fprintf(s.out, "warning: attachment ledger update failed: %v\n", err)
	}
}

// record writes the run to the ledger. The catalog file is the system of record, so a
// ledger failure is reported and otherwise ignored.
func (s *ImportService) record(started time.Time, res RunResult, opts RunOptions, runErr error) {
	if s.db == nil {
		return
	}

	row := internal.RunRow{
		TraceID:    res.TraceID,
		StartedAt:  started.UTC().Format(time.RFC3339),
		FinishedAt: s.now().UTC().Format(time.RFC3339),
		ScratchDir: s.cfg.ScratchDir,
		Files:      len(res.Files),
		Records:    len(res.Books),
		BackedUp:   res.Merge.BackedUp,
		DryRun:     opts.DryRun,
	}
	if res.Merge.Added > 0 {
		row.FirstID = &res.Merge.FirstID
		row.LastID = &res.Merge.LastID
	}
	if runErr != nil {
		msg := runErr.Error()
		row.Error = &msg
	}

	if _, err := s.db.InsertRun(row, res.Files); err != nil {
		fmt.Fprintf(s.out, "warning: run ledger write failed: %v\n", err)
		return
	}
	if runErr == nil && !opts.DryRun {
		_ = s.db.SetMetadata("import.last_run", res.TraceID)
	}
}
