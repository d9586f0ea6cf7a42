package services

import (
	"net/mail"
	"net/url"
	"strings"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
)

const maxURLLength = 2048

// normalizeURL trims raw and requires an absolute http(s) URL with a host.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.BadRequest("A long URL is required")
	}
	if len(raw) > maxURLLength {
		return "", domain.BadRequest("URL is longer than %d characters", maxURLLength)
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", domain.BadRequest("Invalid URL '%s'", raw)
	}
	return raw, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
