package internal

const (
	NA              = "NA"
	StatusAvailable = "Available"
	DateLayout      = "2006-01-02"
)

// Book is one catalog entry. Field order follows the catalog document.
type Book struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	AccessionNo string `json:"accessionNo"`
	Publisher   string `json:"publisher"`
	Status      string `json:"status"`
	DateAdded   string `json:"dateAdded"`
	ID          int    `json:"id"`

	// Placeholder identifies the record within a run until the merger assigns ID.
	Placeholder string `json:"-"`
}

type SourceFormat string

const (
	FormatText SourceFormat = "text"
	FormatXLSX SourceFormat = "xlsx"
	FormatHTML SourceFormat = "html"
)

type FileStatus string

const (
	FileImported   FileStatus = "imported"
	FileNoHeader   FileStatus = "no_header"
	FileNoTitle    FileStatus = "no_title"
	FileUnreadable FileStatus = "unreadable"
)

type FileResult struct {
	// Path is the file as processed; only File is kept in the ledger.
	Path       string
	File       string
	Format     SourceFormat
	Category   string
	HeaderLine int
	Header     []string
	Records    int
	Status     FileStatus
	Reason     string
}

type RunRow struct {
	ID         int
	TraceID    string
	StartedAt  string
	FinishedAt string
	ScratchDir string
	Files      int
	Records    int
	FirstID    *int
	LastID     *int
	BackedUp   bool
	DryRun     bool
	Error      *string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type AttachmentRow struct {
	ID        int
	Provider  string
	MessageID string
	FileName  string
	Hash      string
	Path      string
}
