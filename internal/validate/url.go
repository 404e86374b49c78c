package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrSSRFRisk         = errors.New("URL poses SSRF risk")
)

// MaxWebhookURLLength bounds configured webhook URLs.
const MaxWebhookURLLength = 2048

// WebhookURL validates an outbound webhook URL. Only HTTPS is accepted
// and hosts resolving to private or loopback addresses are rejected,
// since webhook URLs are operator-supplied but delivered from inside
// the network.
func WebhookURL(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}
	if len(urlStr) > MaxWebhookURLLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrTooLong, MaxWebhookURLLength)
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrDisallowedScheme, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", ErrInvalidURL
	}

	if ip := net.ParseIP(parsed.Hostname()); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return "", fmt.Errorf("%w: %s", ErrSSRFRisk, ip)
		}
	}
	if host := strings.ToLower(parsed.Hostname()); host == "localhost" || strings.HasSuffix(host, ".local") {
		return "", fmt.Errorf("%w: %s", ErrSSRFRisk, host)
	}

	return urlStr, nil
}
