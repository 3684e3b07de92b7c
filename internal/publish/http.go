// ABOUTME: Shared HTTP plumbing for REST-style submitters
// ABOUTME: Maps response status codes to publish error kinds

package publish

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPDoer is the subset of *http.Client used by submitters.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 500

// classifyStatus turns a non-accepted response into a classified error.
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody] + "..."
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, detail)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Auth(err)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Transient(err)
	case resp.StatusCode >= 400:
		return Rejected(err)
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}

// accepted reports whether the platform took the request.
func accepted(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted
}

// transportError classifies a failure to get any response at all.
func transportError(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return Transient(err)
}
