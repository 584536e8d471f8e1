// Package config loads the bot's configuration from environment
// variables: a flat BORS_MQ_* convention of required-then-defaulted
// lookups, with no config file parser.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for the bors-mq service.
type Config struct {
	GitHubToken       string
	GitHubAppID       int64  // 0 when using a plain token
	GitHubAppInstID   int64  // GitHub App installation ID, required if GitHubAppID is set
	GitHubAppKeyPath  string // path to the App's PEM private key
	Repos             []RepoRef
	Topic             string // optional: discover repos by this topic
	WebhookSecret     string
	ListenAddr        string
	WebhookPath       string
	ExternalURL       string // optional: external URL for webhook auto-setup
	CheckTimeout      time.Duration
	RequiredChecks    []string
	HighPriorityLabel string
	SquashLabel       string
	MaintainerMode    bool
	BoardLabel        string // empty disables board-card tracking
	RefreshInterval   time.Duration
	DiscoveryInterval time.Duration
	LogLevel          string // "debug", "info", "warn", "error"
}

// RepoRef identifies a repository by owner and name.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoRef parses an "owner/name" string into a RepoRef.
// Returns false if the format is invalid.
func ParseRepoRef(s string) (RepoRef, bool) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" {
		return RepoRef{}, false
	}

	return RepoRef{Owner: owner, Name: name}, true
}

// Load reads configuration from environment variables, validates required
// fields, and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOrDefault("BORS_MQ_LISTEN_ADDR", ":8080"),
		WebhookPath:       envOrDefault("BORS_MQ_WEBHOOK_PATH", "/webhook"),
		HighPriorityLabel: envOrDefault("BORS_MQ_HIGH_PRIORITY_LABEL", "high-priority"),
		SquashLabel:       envOrDefault("BORS_MQ_SQUASH_LABEL", "squash"),
		BoardLabel:        os.Getenv("BORS_MQ_BOARD_LABEL"),
	}

	var missing []string

	cfg.GitHubToken = os.Getenv("BORS_MQ_GITHUB_TOKEN")
	cfg.GitHubAppKeyPath = os.Getenv("BORS_MQ_GITHUB_APP_KEY_PATH")

	if appID := os.Getenv("BORS_MQ_GITHUB_APP_ID"); appID != "" {
		var err error

		cfg.GitHubAppID, err = parseInt64(appID)
		if err != nil {
			return nil, fmt.Errorf("BORS_MQ_GITHUB_APP_ID: %w", err)
		}

		cfg.GitHubAppInstID, err = parseInt64(os.Getenv("BORS_MQ_GITHUB_APP_INSTALLATION_ID"))
		if err != nil {
			return nil, fmt.Errorf("BORS_MQ_GITHUB_APP_INSTALLATION_ID: %w", err)
		}

		if cfg.GitHubAppKeyPath == "" {
			missing = append(missing, "BORS_MQ_GITHUB_APP_KEY_PATH")
		}
	} else if cfg.GitHubToken == "" {
		missing = append(missing, "BORS_MQ_GITHUB_TOKEN or BORS_MQ_GITHUB_APP_ID")
	}

	cfg.Topic = os.Getenv("BORS_MQ_TOPIC")

	reposStr := os.Getenv("BORS_MQ_REPOS")
	if reposStr == "" && cfg.Topic == "" {
		missing = append(missing, "BORS_MQ_REPOS")
	}

	cfg.WebhookSecret = os.Getenv("BORS_MQ_WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		missing = append(missing, "BORS_MQ_WEBHOOK_SECRET")
	}

	cfg.ExternalURL = os.Getenv("BORS_MQ_EXTERNAL_URL")
	if cfg.ExternalURL == "" {
		missing = append(missing, "BORS_MQ_EXTERNAL_URL")
	}

	cfg.ExternalURL = strings.TrimRight(cfg.ExternalURL, "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if reposStr != "" {
		repos, err := parseRepos(reposStr)
		if err != nil {
			return nil, fmt.Errorf("BORS_MQ_REPOS: %w", err)
		}

		cfg.Repos = repos
	}

	var err error

	cfg.CheckTimeout, err = parseDurationOrDefault("BORS_MQ_CHECK_TIMEOUT", 1*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.RefreshInterval, err = parseDurationOrDefault("BORS_MQ_REFRESH_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.DiscoveryInterval, err = parseDurationOrDefault("BORS_MQ_DISCOVERY_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	if checks := os.Getenv("BORS_MQ_REQUIRED_CHECKS"); checks != "" {
		for _, c := range strings.Split(checks, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				cfg.RequiredChecks = append(cfg.RequiredChecks, c)
			}
		}
	}

	if len(cfg.RequiredChecks) == 0 {
		return nil, fmt.Errorf("BORS_MQ_REQUIRED_CHECKS: at least one required check must be configured")
	}

	cfg.MaintainerMode = envOrDefault("BORS_MQ_MAINTAINER_MODE", "true") == "true"

	cfg.LogLevel = envOrDefault("BORS_MQ_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("BORS_MQ_LOG_LEVEL: invalid value %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return defaultVal
}

func parseRepos(s string) ([]RepoRef, error) {
	var repos []RepoRef

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		ref, ok := ParseRepoRef(part)
		if !ok {
			return nil, fmt.Errorf("invalid repo format %q, expected owner/name", part)
		}

		repos = append(repos, ref)
	}

	if len(repos) == 0 {
		return nil, fmt.Errorf("no repos specified")
	}

	return repos, nil
}

func parseDurationOrDefault(envKey string, defaultVal time.Duration) (time.Duration, error) {
	s := os.Getenv(envKey)
	if s == "" {
		return defaultVal, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", envKey, s, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be positive, got %v", envKey, d)
	}

	return d, nil
}

func parseInt64(s string) (int64, error) {
	var n int64

	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}

	return n, nil
}
