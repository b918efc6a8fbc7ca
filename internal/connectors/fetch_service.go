package connectors

import (
	"errors"
	"fmt"
	"io"
	"os"

	"libimport/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *AttachmentStore
	out       io.Writer
}

type FetchResult struct {
	Fetched int
	Staged  int
	Files   []string
}

func NewFetchService(db *storage.DB, scratchDir string, accept func(string) bool, connector MailConnector) *FetchService {
	return &FetchService{
		connector: connector,
		store:     NewAttachmentStore(db, scratchDir, accept),
		out:       os.Stdout,
	}
}

// FetchAndStage pulls messages and stages their attachments. A message that cannot be
// parsed is reported and skipped; storage errors stop the fetch.
func (s *FetchService) FetchAndStage(label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchMessages(label, max)
	if err != nil {
		return FetchResult{}, err
	}

	res := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		rows, err := s.store.Stage(msg)
		for _, row := range rows {
			res.Files = append(res.Files, row.Path)
			fmt.Fprintf(s.out, "staged attachment file=%s message=%s received=%s from=%s subject=%q\n", row.FileName, row.MessageID, msg.ReceivedAt, msg.From, msg.Subject)
		}
		res.Staged += len(rows)
		if err != nil {
			if errors.Is(err, ErrUnreadableMessage) {
				fmt.Fprintf(s.out, "skipping message=%s reason=%q\n", msg.MessageID, err.Error())
				continue
			}
			return res, err
		}
	}
	return res, nil
}

func (s *FetchService) SetOutput(w io.Writer) {
	s.out = w
}
