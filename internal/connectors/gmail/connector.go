package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"libimport/internal"
	"libimport/internal/config"
)

type Connector struct {
	service  *gmail.Service
	query    string
	throttle *throttle
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}

	return &Connector{
		service:  svc,
		query:    attachmentQuery(cfg.ImportExtensions),
		throttle: newThrottle(cfg.GmailRequestsPerSec),
	}, nil
}

// attachmentQuery narrows the listing server-side, e.g. "has:attachment {filename:csv filename:xlsx}".
func attachmentQuery(extensions []string) string {
	terms := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimPrefix(ext, ".")
		if ext != "" {
			terms = append(terms, "filename:"+ext)
		}
	}
	if len(terms) == 0 {
		return "has:attachment"
	}
	return "has:attachment {" + strings.Join(terms, " ") + "}"
}

func (c *Connector) FetchMessages(label string, max int) ([]internal.FetchedMailMessage, error) {
	c.throttle.wait()
	listResp, err := c.service.Users.Messages.List("me").LabelIds(label).Q(c.query).MaxResults(int64(max)).Do()
	if err != nil {
		return nil, err
	}

	out := make([]internal.FetchedMailMessage, 0, len(listResp.Messages))
	for _, msgRef := range listResp.Messages {
		if msgRef.Id == "" {
			continue
		}

		c.throttle.wait()
		rawResp, err := c.service.Users.Messages.Get("me", msgRef.Id).Format("raw").Do()
		if err != nil {
			return nil, err
		}
		if rawResp.Raw == "" {
			continue
		}
		rawBytes, err := decodeBase64URL(rawResp.Raw)
		if err != nil {
			return nil, err
		}

		received := time.Now().UTC()
		if rawResp.InternalDate > 0 {
			received = time.UnixMilli(rawResp.InternalDate).UTC()
		}

		out = append(out, internal.FetchedMailMessage{
			Provider:   "gmail",
			MessageID:  msgRef.Id,
			ReceivedAt: received.Format(time.RFC3339),
			Raw:        rawBytes,
		})
	}

	return out, nil
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail raw payload: %w", err)
}
