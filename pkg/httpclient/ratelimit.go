package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// OpenAIHeaderParser reads the x-ratelimit-* family used by
// OpenAI-compatible chat-completions endpoints.
func OpenAIHeaderParser(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.RequestsRemaining = n
		}
	}
	if v := headers.Get("x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.TokensRemaining = n
		}
	}
	if v := headers.Get("x-ratelimit-reset-requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			info.ResetTime = time.Now().Add(d).Unix()
		}
	}

	return info
}

// VoyageHeaderParser reads the standard Retry-After header the Voyage
// embeddings API sends on 429 responses.
func VoyageHeaderParser(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			info.ResetTime = t.Unix()
		}
	}

	return info
}
