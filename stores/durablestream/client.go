package durablestream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Offset of the first message of a stream.
const offsetOldest = "-1"

// client speaks the durable-streams HTTP protocol for one stream URL.
type client struct {
	streamURL string
	cfg       *config
}

// page is one read response.
type page struct {
	nextOffset string
	body       []byte
	upToDate   bool
}

// create creates the stream. Creating an existing stream succeeds.
func (c *client) create(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, c.streamURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusNoContent:
		return nil
	}
	return statusError("create stream", resp)
}

// appendJSON posts a JSON array; each element becomes one message.
func (c *client) appendJSON(ctx context.Context, data []byte) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.streamURL, data)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return "", statusError("append", resp)
	}
	return resp.Header.Get("Stream-Next-Offset"), nil
}

// read fetches the messages after offset.
func (c *client) read(ctx context.Context, offset string) (*page, error) {
	u, err := url.Parse(c.streamURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}
	q := u.Query()
	q.Set("offset", offset)
	if c.cfg.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.cfg.pageSize))
	}
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("stream not found")
	case http.StatusNoContent:
		return &page{nextOffset: offset, upToDate: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("read", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &page{
		nextOffset: resp.Header.Get("Stream-Next-Offset"),
		body:       body,
		upToDate:   resp.Header.Get("Stream-Up-To-Date") == "true",
	}, nil
}

// do sends a request, retrying transport errors and 5xx responses. The
// request body is replayed on every attempt.
func (c *client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.retryAttempts; attempt++ {
		if attempt > 0 {
			c.cfg.logger.Debug("retrying durable stream request",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				cancel()
				return nil, ctx.Err()
			case <-time.After(c.cfg.retryBackoff * time.Duration(attempt)):
			}
		}

		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, r)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil || method == http.MethodPut {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.cfg.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 && attempt < c.cfg.retryAttempts {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	cancel()
	return nil, fmt.Errorf("after %d retries: %w", c.cfg.retryAttempts, lastErr)
}

// cancelBody releases the request timeout when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
}
