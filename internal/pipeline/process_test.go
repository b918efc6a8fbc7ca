package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"libimport/internal"
	"libimport/internal/catalog"
	"libimport/internal/config"
	"libimport/internal/storage"
)

const seededCatalog = `{"books": [{"id": 1, "title": "Old"}, {"id": "2", "title": "Older"}], "issuance": [{"bookId": 1}], "members": []}`

type fixture struct {
	cfg config.Config
	db  *storage.DB
	svc *ImportService
	out *bytes.Buffer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		ScratchDir:        filepath.Join(root, "tmp"),
		CatalogPath:       filepath.Join(root, "library.json"),
		CatalogBackupPath: filepath.Join(root, "library.json.bak"),
		ImportExtensions:  []string{".csv", ".xlsx"},
	}
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		t.Fatal(err)
	}

	db, err := storage.Open(filepath.Join(root, "data", "import.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	out := &bytes.Buffer{}
	svc := NewImportService(db, cfg, NewClassifier(DefaultCategoryRules))
	svc.SetOutput(out)
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }
	return fixture{cfg: cfg, db: db, svc: svc, out: out}
}

func (f fixture) scratch(t *testing.T, name, content string) {
	t.Helper()
	writeFile(t, f.cfg.ScratchDir, name, []byte(content))
}

func TestImportRun(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "FGPG-College-Cupboard-28.csv", sampleInventory)
	f.scratch(t, "notes.csv", "just some text\nwith no table\n")
	f.scratch(t, "readme.txt", "Title,Author\nIgnored,Nobody\n")
	if err := os.Symlink(filepath.Join(f.cfg.ScratchDir, "gone.csv"), filepath.Join(f.cfg.ScratchDir, "broken.csv")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(f.cfg.ScratchDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(f.cfg.ScratchDir, "nested"), "BOTANY.csv", []byte("Title,Author\nSkipped,Nobody\n"))
	if err := os.WriteFile(f.cfg.CatalogPath, []byte(seededCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.TraceID == "" {
		t.Fatal("empty trace id")
	}

	wantFiles := []struct {
		file   string
		status internal.FileStatus
	}{
		{"FGPG-College-Cupboard-28.csv", internal.FileImported},
		{"broken.csv", internal.FileUnreadable},
		{"notes.csv", internal.FileNoHeader},
	}
	if len(res.Files) != len(wantFiles) {
		t.Fatalf("files=%+v", res.Files)
	}
	for i, want := range wantFiles {
		if res.Files[i].File != want.file || res.Files[i].Status != want.status {
			t.Fatalf("file %d: %+v", i, res.Files[i])
		}
	}
	if res.Files[0].Category != "Physics" || res.Files[0].HeaderLine != 1 || res.Files[0].Records != 4 {
		t.Fatalf("imported file: %+v", res.Files[0])
	}

	if len(res.Books) != 4 || res.Merge.FirstID != 3 || res.Merge.LastID != 6 || !res.Merge.BackedUp {
		t.Fatalf("merge=%+v books=%d", res.Merge, len(res.Books))
	}
	for i, b := range res.Books {
		if b.ID != 3+i || b.DateAdded != "2026-10-19" || b.Category != "Physics" {
			t.Fatalf("book %d: %+v", i, b)
		}
	}

	state, _, err := catalog.Load(f.cfg.CatalogPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Books) != 6 {
		t.Fatalf("catalog books=%d", len(state.Books))
	}
	raw, _ := state.Collection("issuance")
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil || compact.String() != `[{"bookId":1}]` {
		t.Fatalf("issuance=%s err=%v", raw, err)
	}
	backup, err := os.ReadFile(f.cfg.CatalogBackupPath)
	if err != nil || string(backup) != seededCatalog {
		t.Fatalf("backup=%q err=%v", backup, err)
	}

	runs, err := f.db.ListRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].TraceID != res.TraceID || runs[0].Records != 4 || runs[0].FirstID == nil || *runs[0].FirstID != 3 {
		t.Fatalf("runs=%+v", runs)
	}
	results, err := f.db.ListFileResults(runs[0].ID)
	if err != nil || len(results) != 3 {
		t.Fatalf("results=%+v err=%v", results, err)
	}
	last, err := f.db.GetMetadata("import.last_run")
	if err != nil || last == nil || *last != res.TraceID {
		t.Fatalf("last run=%v err=%v", last, err)
	}
}

func TestImportRunTwiceKeepsIDsUnique(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "PSYCHOLOGY.csv", "Title,Author\nMind,James\n")

	first, err := f.svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Merge.FirstID != 1 || second.Merge.FirstID != 2 {
		t.Fatalf("first=%+v second=%+v", first.Merge, second.Merge)
	}
	if !first.Merge.Created || second.Merge.Created || !second.Merge.BackedUp {
		t.Fatalf("first=%+v second=%+v", first.Merge, second.Merge)
	}
}

func TestImportRunMissingScratchDir(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.cfg.ScratchDir); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Run(RunOptions{})
	if !errors.Is(err, ErrScratchDirMissing) {
		t.Fatalf("err=%v", err)
	}
	if _, err := os.Stat(f.cfg.CatalogPath); !os.IsNotExist(err) {
		t.Fatal("catalog written despite missing scratch dir")
	}
	if runs, _ := f.db.ListRuns(5); len(runs) != 0 {
		t.Fatalf("runs=%+v", runs)
	}
}

func TestImportDryRun(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "CS.csv", "Book Title,Author\nSICP,Abelson\n")

	res, err := f.svc.Run(RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Books) != 1 || res.Books[0].Category != "Computer Science" || res.Books[0].ID != 0 {
		t.Fatalf("books=%+v", res.Books)
	}
	if _, err := os.Stat(f.cfg.CatalogPath); !os.IsNotExist(err) {
		t.Fatal("dry run wrote the catalog")
	}
	runs, err := f.db.ListRuns(5)
	if err != nil || len(runs) != 1 || !runs[0].DryRun {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}

func TestImportServiceWithoutLedger(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "Chemistry.csv", "Name,Author Name\nIonic Bonds,Pauling\n")

	svc := NewImportService(nil, f.cfg, NewClassifier(DefaultCategoryRules))
	svc.SetOutput(io.Discard)
	res, err := svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Merge.Added != 1 || res.Books[0].Category != "Chemistry" {
		t.Fatalf("res=%+v", res)
	}
}

func TestImportRunEmptyScratchDir(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.cfg.CatalogPath, []byte(seededCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Merge.Added != 0 || res.Merge.Existing != 2 || !res.Merge.BackedUp {
		t.Fatalf("merge=%+v", res.Merge)
	}
	if _, err := os.Stat(f.cfg.CatalogBackupPath); err != nil {
		t.Fatal(err)
	}
}

func TestImportRunOnlyGivenFiles(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "PSYCHOLOGY.csv", "Title,Author\nOld Import,Nobody\n")
	f.scratch(t, "CS.csv", "Title,Author\nCompilers,Aho\n")
	f.scratch(t, "BOTANY.csv", "Title,Author\nPlant Anatomy,Esau\n")

	only := []string{
		filepath.Join(f.cfg.ScratchDir, "CS.csv"),
		filepath.Join(f.cfg.ScratchDir, "BOTANY.csv"),
	}
	res, err := f.svc.Run(RunOptions{Only: only})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 || res.Files[0].File != "BOTANY.csv" || res.Files[1].File != "CS.csv" {
		t.Fatalf("files=%+v", res.Files)
	}
	if res.Merge.Added != 2 || res.Merge.FirstID != 1 || res.Merge.LastID != 2 {
		t.Fatalf("merge=%+v", res.Merge)
	}
	if res.Books[0].Category != "Botany" || res.Books[1].Category != "Computer Science" {
		t.Fatalf("books=%+v", res.Books)
	}
	if only[0] != filepath.Join(f.cfg.ScratchDir, "CS.csv") {
		t.Fatal("caller slice reordered")
	}
}

func TestImportRunClosesOutStagedAttachments(t *testing.T) {
	f := newFixture(t)
	f.scratch(t, "BOTANY.csv", "Title,Author\nPlant Anatomy,Esau\n")
	staged := filepath.Join(f.cfg.ScratchDir, "BOTANY.csv")
	if err := f.db.InsertAttachment(internal.AttachmentRow{Provider: "imap", MessageID: "m1", FileName: "BOTANY.csv", Hash: "h1", Path: staged}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Run(RunOptions{DryRun: true}); err != nil {
		t.Fatal(err)
	}
	pending, err := f.db.PendingAttachments()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("dry run must leave attachments pending: %+v", pending)
	}

	res, err := f.svc.Run(RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Files[0].Path != staged {
		t.Fatalf("path=%q", res.Files[0].Path)
	}
	pending, err = f.db.PendingAttachments()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending=%+v", pending)
	}
}
