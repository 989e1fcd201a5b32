package enhance

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"
)

// Failures surfaced by Invoker.Enhance. Match them with errors.Is.
var (
	ErrEmptyInput            = errors.New("input prompt is empty")
	ErrFeatureDisabled       = errors.New("enhance prompt feature is disabled")
	ErrMissingCredentials    = errors.New("API key not configured, please configure it in settings")
	ErrInvalidResponseFormat = errors.New("invalid response from API")
	ErrAuthentication        = errors.New("API key is invalid, please check the provider configuration")
	ErrRateLimit             = errors.New("rate limit exceeded, please try again later")
	ErrForbidden             = errors.New("access denied, the proxy server may require additional verification")
	ErrProxyInterference     = errors.New("the proxy server returned a web page instead of an API response, use the official endpoint or check the proxy configuration")
	ErrUnknownInvocation     = errors.New("enhancement failed, please check the network connection and proxy configuration")
)

// UpstreamError carries any other failure reported by the API or transport.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// markupPattern flags any message that embeds an HTML-ish tag.
var markupPattern = regexp.MustCompile(`(?is)<[a-z][\s\S]*>`)

// looksLikeHTMLDocument reports whether s contains the start of an HTML page,
// which is what intercepting proxies and anti-bot walls send back.
func looksLikeHTMLDocument(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

// classify maps a failed API call onto the invoker's error set. HTML is
// checked before status codes: a proxy page wins whatever status it came with.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var htmlErr *HTMLResponseError
	if errors.As(err, &htmlErr) {
		return errors.Wrapf(ErrProxyInterference, "HTTP %d from %s", htmlErr.StatusCode, htmlErr.URL)
	}

	message := err.Error()
	if looksLikeHTMLDocument(message) {
		return ErrProxyInterference
	}

	var apiErr *anthropic.Error
	statusCode := 0
	if errors.As(err, &apiErr) {
		statusCode = apiErr.StatusCode
		switch statusCode {
		case http.StatusUnauthorized:
			return ErrAuthentication
		case http.StatusTooManyRequests:
			return ErrRateLimit
		case http.StatusForbidden:
			return ErrForbidden
		}
	}

	if strings.TrimSpace(message) == "" {
		return ErrUnknownInvocation
	}
	if markupPattern.MatchString(message) {
		return ErrProxyInterference
	}
	return &UpstreamError{StatusCode: statusCode, Message: message}
}

// Kind names an Enhance failure for machine consumers such as the HTTP API.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrFeatureDisabled):
		return "feature_disabled"
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrInvalidResponseFormat):
		return "invalid_response_format"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrProxyInterference):
		return "proxy_interference"
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return "upstream"
	}
	return "unknown"
}
