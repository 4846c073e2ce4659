package scripture

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"PleaPipeline/internal/config"
	"PleaPipeline/internal/ports"
)

const (
	SourceESV  = "esv"
	SourceHTML = "html"
)

// ErrNotConfigured means the selected source lacks its key or URL.
var ErrNotConfigured = errors.New("scripture source not configured")

// New returns the single chapter source selected by cfg.Source (default esv).
func New(cfg config.ScriptureConfig, client *http.Client) (ports.ScriptureSource, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", SourceESV:
		if cfg.Endpoint == "" || cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", SourceESV, ErrNotConfigured)
		}
		return NewESVClient(cfg, client), nil
	case SourceHTML:
		if cfg.HTMLURL == "" {
			return nil, fmt.Errorf("%s: %w", SourceHTML, ErrNotConfigured)
		}
		if client == nil {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		return NewHTMLSource(cfg.HTMLURL, cfg.HTMLSelector, client), nil
	default:
		return nil, fmt.Errorf("unknown scripture source %q", cfg.Source)
	}
}
