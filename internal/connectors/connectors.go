package connectors

import "libimport/internal"

// MailConnector pulls raw messages that may carry inventory attachments.
type MailConnector interface {
	FetchMessages(label string, max int) ([]internal.FetchedMailMessage, error)
}
