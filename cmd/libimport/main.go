package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"libimport/internal/catalog"
	"libimport/internal/config"
	"libimport/internal/connectors"
	"libimport/internal/listener"
	"libimport/internal/pipeline"
	"libimport/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	cmd := "import"
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	switch cmd {
	case "import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "extract and report without touching the catalog")
		_ = fs.Parse(args)

		// The catalog file is the system of record; without a ledger the import still runs.
		db, err := storage.Open(cfg.DBPath)
		if err != nil {
			fmt.Printf("warning: run ledger unavailable path=%s: %v\n", cfg.DBPath, err)
			db = nil
		} else {
			defer db.Close()
		}

		classifier, err := pipeline.ClassifierFromFile(cfg.CategoryRulesPath)
		must(err)
		svc := pipeline.NewImportService(db, cfg, classifier)
		_, err = svc.Run(pipeline.RunOptions{DryRun: *dryRun})
		must(err)
	case "history":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		limit := fs.Int("limit", 10, "number of runs")
		verbose := fs.Bool("files", false, "list per-file outcomes")
		_ = fs.Parse(args)

		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		runs, err := db.ListRuns(*limit)
		must(err)
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return
		}
		for _, run := range runs {
			ids := "-"
			if run.FirstID != nil && run.LastID != nil {
				ids = fmt.Sprintf("%d..%d", *run.FirstID, *run.LastID)
			}
			status := "ok"
			if run.Error != nil {
				status = "error: " + *run.Error
			} else if run.DryRun {
				status = "dry-run"
			}
			fmt.Printf("%s started=%s files=%d records=%d ids=%s backup=%t %s\n", run.TraceID, run.StartedAt, run.Files, run.Records, ids, run.BackedUp, status)
			if !*verbose {
				continue
			}
			files, err := db.ListFileResults(run.ID)
			must(err)
			for _, f := range files {
				fmt.Printf("  %s format=%s category=%q status=%s records=%d", f.File, f.Format, f.Category, f.Status, f.Records)
				if f.Reason != "" {
					fmt.Printf(" reason=%q", f.Reason)
				}
				fmt.Println()
			}
		}
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(args)
		if strings.TrimSpace(*out) == "" {
			*out = filepath.Join(cfg.OutputDir, "catalog.xlsx")
		}

		state, exists, err := catalog.Load(cfg.CatalogPath)
		must(err)
		if !exists {
			must(fmt.Errorf("catalog not found: %s", cfg.CatalogPath))
		}
		entries, err := state.Entries()
		must(err)
		must(pipeline.ExportBooksToXLSX(entries, *out))
		fmt.Printf("exported %d books to %s\n", len(entries), *out)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", cfg.MailListenerFetchMax, "max messages")
		_ = fs.Parse(args)

		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		conn, err := listener.MakeConnector(cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.ScratchDir, cfg.Accepts, conn)
		result, err := fetch.FetchAndStage(*label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d staged=%d\n", *provider, result.Fetched, result.Staged)
	case "mail:listen":
		db, err := storage.Open(cfg.DBPath)
		must(err)
		defer db.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		s := listener.NewService(db, cfg)
		must(s.Run(ctx))
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: libimport [command]")
	fmt.Println("commands:")
	fmt.Println("  import [--dry-run]          (default)")
	fmt.Println("  history [--limit=10] [--files]")
	fmt.Println("  export:xlsx [--out=./out/catalog.xlsx]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=20")
	fmt.Println("  mail:listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
