package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 15 * time.Second

var httpClient = &http.Client{Timeout: requestTimeout}

// doRequest executes an outbound provider call and reads the full
// body. The bool return reports whether the failure was a timeout so
// callers can surface it distinctly from generic transport errors.
func doRequest(req *http.Request) ([]byte, int, bool, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, isTimeoutErr(err), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, isTimeoutErr(err), fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, false, nil
}

func postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, timedOut, err := doRequest(req)
	if err != nil {
		return nil, timedOut, err
	}
	if status < 200 || status >= 300 {
		return body, false, fmt.Errorf("unexpected status %d", status)
	}
	return body, false, nil
}

func postXML(ctx context.Context, endpoint string, payload []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/xml")

	body, status, timedOut, err := doRequest(req)
	if err != nil {
		return nil, timedOut, err
	}
	if status < 200 || status >= 300 {
		return body, false, fmt.Errorf("unexpected status %d", status)
	}
	return body, false, nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
