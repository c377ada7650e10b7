package client

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxMessageSize caps the provider message copied into a StatusError.
const maxMessageSize = 512

// interpret reads a capped copy of a non-2xx body, closes it and maps the
// status onto the error taxonomy.
func (c *Client) interpret(resp *http.Response, attempts int) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodySize))
	if err != nil {
		b = []byte("unable to read body")
	}

	if err := resp.Body.Close(); err != nil {
		c.logger.Error("failed to close response body", "error", err)
	}

	body := c.creds.scrub(string(b))

	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    providerMessage(body),
		Body:       body,
		Attempts:   attempts,
		Err:        kindFor(resp.StatusCode),
	}
}

// providerError covers both error shapes the APIs answer with: the storage
// API's {"HttpCode":404,"Message":"..."} and the control plane's
// {"ErrorKey":"...","Field":"...","Message":"..."}.
type providerError struct {
	Message  string `json:"Message"`
	ErrorKey string `json:"ErrorKey"`
	Field    string `json:"Field"`
}

// providerMessage extracts a human readable message from an error body.
func providerMessage(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	var pe providerError
	if strings.HasPrefix(body, "{") && json.Unmarshal([]byte(body), &pe) == nil {
		msg := pe.Message
		if msg == "" {
			msg = pe.ErrorKey
		}
		if pe.Field != "" && msg != "" {
			msg = pe.Field + ": " + msg
		}
		return truncate(msg, maxMessageSize)
	}

	if strings.HasPrefix(body, "<") {
		// HTML error pages from proxies carry nothing useful.
		return ""
	}

	return truncate(body, maxMessageSize)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}

	return s + "..."
}
