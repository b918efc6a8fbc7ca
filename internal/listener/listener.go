package listener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"libimport/internal/config"
	"libimport/internal/connectors"
	gmailconnector "libimport/internal/connectors/gmail"
	imapconnector "libimport/internal/connectors/imap"
	"libimport/internal/pipeline"
	"libimport/internal/storage"
)

// Service polls the mailbox and imports whatever new attachments were staged.
// Cycles run one after another, so only one import touches the catalog at a time.
type Service struct {
	db      *storage.DB
	cfg     config.Config
	connect func(config.Config, string) (connectors.MailConnector, error)
	out     io.Writer
}

func NewService(db *storage.DB, cfg config.Config) *Service {
	return &Service{db: db, cfg: cfg, connect: MakeConnector, out: os.Stdout}
}

func (s *Service) SetOutput(w io.Writer) {
	s.out = w
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.runCycle(); err != nil {
			fmt.Fprintf(s.out, "listener cycle error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.MailListenerIntervalSec) * time.Second):
		}
	}
}

// RunOnce runs a single cycle and reports its error.
func (s *Service) RunOnce() error {
	return s.runCycle()
}

// runCycle stages new attachments and imports every staged attachment not yet imported,
// including ones left over from a failed cycle. A fetch failure does not block the import
// of what is already staged.
func (s *Service) runCycle() error {
	provider := strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
	mailConnector, err := s.connect(s.cfg, provider)
	if err != nil {
		return err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.ScratchDir, s.cfg.Accepts, mailConnector)
	fetchService.SetOutput(s.out)
	fetchResult, fetchErr := fetchService.FetchAndStage(s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if fetchErr != nil {
		fmt.Fprintf(s.out, "warning: mail fetch failed provider=%s: %v\n", provider, fetchErr)
	}

	pending, err := s.pendingFiles()
	if err != nil {
		return errors.Join(fetchErr, err)
	}
	if len(pending) == 0 {
		fmt.Fprintf(s.out, "listener cycle done provider=%s fetched=%d staged=%d pending=0\n", provider, fetchResult.Fetched, fetchResult.Staged)
		return fetchErr
	}

	classifier, err := pipeline.ClassifierFromFile(s.cfg.CategoryRulesPath)
	if err != nil {
		return errors.Join(fetchErr, err)
	}
	importer := pipeline.NewImportService(s.db, s.cfg, classifier)
	importer.SetOutput(s.out)
	res, err := importer.Run(pipeline.RunOptions{Only: pending})
	if err != nil {
		return errors.Join(fetchErr, err)
	}

	fmt.Fprintf(s.out, "listener cycle done provider=%s fetched=%d staged=%d pending=%d books=%d\n", provider, fetchResult.Fetched, fetchResult.Staged, len(pending), res.Merge.Added)
	return fetchErr
}

// pendingFiles returns the staged attachments still waiting for an import. Entries whose
// file was removed from the scratch directory are closed out.
func (s *Service) pendingFiles() ([]string, error) {
	rows, err := s.db.PendingAttachments()
	if err != nil {
		return nil, err
	}

	paths := []string{}
	gone := []string{}
	for _, row := range rows {
		if _, err := os.Stat(row.Path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(s.out, "warning: staged attachment missing path=%s, dropping\n", row.Path)
			gone = append(gone, row.Path)
			continue
		}
		paths = append(paths, row.Path)
	}
	if err := s.db.MarkAttachmentsImported(gone); err != nil {
		return nil, err
	}
	return paths, nil
}

func MakeConnector(cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}
