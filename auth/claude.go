// Package auth reads OAuth credentials cached by the Claude CLI.
package auth

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/agentcli/logging"
)

// OAuth is the claudeAiOauth entry of the credentials file.
type OAuth struct {
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken"`
	ExpiresAt        int64    `json:"expiresAt"` // epoch milliseconds
	Scopes           []string `json:"scopes,omitempty"`
	SubscriptionType string   `json:"subscriptionType,omitempty"`
	RateLimitTier    string   `json:"rateLimitTier,omitempty"`
}

func (o *OAuth) Expired(now time.Time) bool {
	return o.ExpiresAt < now.UnixMilli()
}

type credentials struct {
	ClaudeAiOauth *OAuth `json:"claudeAiOauth"`
}

// Store loads credentials from a fixed path.
type Store struct {
	Path   string
	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultPath is ~/.claude/.credentials.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude", ".credentials.json"), nil
}

// NewStore returns a Store for the default path.
func NewStore(logger *slog.Logger) *Store {
	path, err := DefaultPath()
	if err != nil {
		path = ""
	}
	return &Store{Path: path, Logger: logger}
}

// Get returns the OAuth credentials, or nil when the file is absent,
// unreadable or has no OAuth entry. Expired tokens are still returned with a
// warning; refreshing them is left to the Claude CLI.
func (s *Store) Get() *OAuth {
	log := s.Logger
	if log == nil {
		log = logging.Discard()
	}
	if s.Path == "" {
		return nil
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("credentials file not found", "path", s.Path)
		} else {
			log.Error("failed to read claude credentials", "path", s.Path, "error", err)
		}
		return nil
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		log.Error("failed to parse claude credentials", "path", s.Path, "error", err)
		return nil
	}
	o := creds.ClaudeAiOauth
	if o == nil || o.AccessToken == "" || o.RefreshToken == "" {
		log.Info("no claudeAiOauth credentials found")
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if o.Expired(now()) {
		log.Warn("token may be expired, please run 'claude auth login' to refresh",
			"expiresAt", time.UnixMilli(o.ExpiresAt).UTC().Format(time.RFC3339))
	}
	log.Info("loaded claude oauth credentials", "subscriptionType", o.SubscriptionType, "scopes", o.Scopes)
	return o
}

func (s *Store) Available() bool {
	return s.Get() != nil
}

// AccessToken returns the cached token, or "" when none is available.
func (s *Store) AccessToken() string {
	if o := s.Get(); o != nil {
		return o.AccessToken
	}
	return ""
}
