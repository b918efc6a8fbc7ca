package connectors

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"libimport/internal"
	"libimport/internal/storage"
)

var ErrUnreadableMessage = errors.New("unreadable message")

// AttachmentStore drops tabular attachments into the scratch directory under their
// own names, since the category is derived from the file name.
type AttachmentStore struct {
	db         *storage.DB
	scratchDir string
	accept     func(name string) bool
}

func NewAttachmentStore(db *storage.DB, scratchDir string, accept func(name string) bool) *AttachmentStore {
	return &AttachmentStore{db: db, scratchDir: scratchDir, accept: accept}
}

// Stage writes every accepted attachment not seen before (by content hash) and
// returns what was written.
func (s *AttachmentStore) Stage(msg internal.FetchedMailMessage) ([]internal.AttachmentRow, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnreadableMessage, msg.MessageID, err)
	}

	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return nil, err
	}

	staged := []internal.AttachmentRow{}
	for _, att := range env.Attachments {
		name := sanitizeFileName(att.FileName)
		if name == "" || !s.accept(name) || len(att.Content) == 0 {
			continue
		}

		sum := sha256.Sum256(att.Content)
		hash := hex.EncodeToString(sum[:])
		seen, err := s.db.HasAttachment(hash)
		if err != nil {
			return staged, err
		}
		if seen {
			continue
		}

		path, err := freePath(s.scratchDir, name)
		if err != nil {
			return staged, err
		}
		if err := os.WriteFile(path, att.Content, 0o644); err != nil {
			return staged, err
		}

		row := internal.AttachmentRow{Provider: msg.Provider, MessageID: msg.MessageID, FileName: name, Hash: hash, Path: path}
		if err := s.db.InsertAttachment(row); err != nil {
			return staged, err
		}
		staged = append(staged, row)
	}
	return staged, nil
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

// freePath keeps the original name when possible and otherwise appends -2, -3, ...
// Digits are dropped by the fallback category heuristic, so the category is unchanged.
func freePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for n := 2; ; n++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
	}
}
