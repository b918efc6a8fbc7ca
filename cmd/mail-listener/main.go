package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"libimport/internal/config"
	"libimport/internal/listener"
	"libimport/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single fetch/import cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	must(err)

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	svc := listener.NewService(db, cfg)
	if *once {
		must(svc.RunOnce())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("mail listener started provider=%s label=%s interval=%ds scratch=%s\n",
		cfg.MailListenerProvider, cfg.MailListenerLabel, cfg.MailListenerIntervalSec, cfg.ScratchDir)
	must(svc.Run(ctx))
	fmt.Println("mail listener stopped")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
