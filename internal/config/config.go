package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ScratchDir        string
	CatalogPath       string
	CatalogBackupPath string
	DBPath            string
	OutputDir         string
	ImportExtensions  []string
	CategoryRulesPath string

	GmailClientID       string
	GmailClientSecret   string
	GmailRedirectURI    string
	GmailRefreshToken   string
	GmailRequestsPerSec int

	IMAPHost     string
	IMAPPort     int
	IMAPSecure   bool
	IMAPUser     string
	IMAPPassword string
	IMAPMarkSeen bool

	MailListenerProvider    string
	MailListenerLabel       string
	MailListenerIntervalSec int
	MailListenerFetchMax    int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	catalogPath := getEnv("CATALOG_PATH", filepath.Join(cwd, "library.json"))
	cfg := Config{
		ScratchDir:        getEnv("SCRATCH_DIR", filepath.Join(cwd, "tmp")),
		CatalogPath:       catalogPath,
		CatalogBackupPath: getEnv("CATALOG_BACKUP_PATH", catalogPath+".bak"),
		DBPath:            getEnv("DB_PATH", filepath.Join(cwd, "data", "import.db")),
		OutputDir:         getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		ImportExtensions:  getEnvList("IMPORT_EXTENSIONS", []string{".csv"}),
		CategoryRulesPath: getEnv("CATEGORY_RULES_PATH", ""),

		GmailClientID:       getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret:   getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:    getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken:   getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailRequestsPerSec: getEnvInt("GMAIL_REQUESTS_PER_SEC", 5),

		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSecure:   getEnvBool("IMAP_SECURE", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPMarkSeen: getEnvBool("IMAP_MARK_SEEN", false),

		MailListenerProvider:    getEnv("MAIL_LISTENER_PROVIDER", "imap"),
		MailListenerLabel:       getEnv("MAIL_LISTENER_LABEL", "INBOX"),
		MailListenerIntervalSec: getEnvInt("MAIL_LISTENER_INTERVAL_SEC", 300),
		MailListenerFetchMax:    getEnvInt("MAIL_LISTENER_FETCH_MAX", 20),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// Accepts reports whether a file name carries one of the configured import extensions.
func (c Config) Accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range c.ImportExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
