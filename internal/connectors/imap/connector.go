package imap

import (
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"libimport/internal"
	"libimport/internal/config"
)

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
	accept   func(string) bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
		accept:   cfg.Accepts,
	}, nil
}

// FetchMessages downloads unseen messages whose body structure names at least one
// attachment with an accepted extension. Structures are checked first so plain mail is
// never downloaded in full.
func (c *Connector) FetchMessages(label string, max int) ([]internal.FetchedMailMessage, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, err
	}
	defer client.Logout()

	if err := client.Login(c.user, c.password); err != nil {
		return nil, err
	}
	if _, err := client.Select(label, false); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	candidates, err := c.withAttachments(client, ids)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > max {
		candidates = candidates[len(candidates)-max:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(candidates...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(candidates))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(candidates))
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}

		fetched := internal.FetchedMailMessage{
			Provider:   "imap",
			MessageID:  fmt.Sprintf("imap-%d", msg.Uid),
			ReceivedAt: time.Now().UTC().Format(time.RFC3339),
			Raw:        raw,
		}
		if msg.Envelope != nil {
			if msg.Envelope.MessageId != "" {
				fetched.MessageID = msg.Envelope.MessageId
			}
			fetched.Subject = msg.Envelope.Subject
			if len(msg.Envelope.From) > 0 && msg.Envelope.From[0] != nil {
				fetched.From = msg.Envelope.From[0].Address()
			}
		}
		if !msg.InternalDate.IsZero() {
			fetched.ReceivedAt = msg.InternalDate.UTC().Format(time.RFC3339)
		}
		out = append(out, fetched)
	}
	if err := <-fetchDone; err != nil {
		return nil, err
	}

	if c.markSeen {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.Store(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func (c *Connector) withAttachments(client *imapclient.Client, ids []uint32) ([]uint32, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() { done <- client.Fetch(seqset, []imap.FetchItem{imap.FetchBodyStructure}, messages) }()

	out := []uint32{}
	for msg := range messages {
		if msg == nil || msg.BodyStructure == nil {
			continue
		}
		found := false
		msg.BodyStructure.Walk(func(_ []int, part *imap.BodyStructure) bool {
			if name, err := part.Filename(); err == nil && name != "" && c.accept(name) {
				found = true
			}
			return !found
		})
		if found {
			out = append(out, msg.SeqNum)
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return out, nil
}
