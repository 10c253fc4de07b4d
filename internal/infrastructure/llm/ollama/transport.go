package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	resp, release, err := c.post(ctx, path, payload, operation)
	if err != nil {
		return err
	}
	defer release()
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// postStream decodes newline-delimited JSON objects until handle reports done.
func (c *Client) postStream(
	ctx context.Context,
	path string,
	payload any,
	operation string,
	newChunk func() any,
	handle func(chunk any) (bool, error),
) error {
	resp, release, err := c.post(ctx, path, payload, operation)
	if err != nil {
		return err
	}
	defer release()
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunk := newChunk()
		if err := json.Unmarshal(line, chunk); err != nil {
			return fmt.Errorf("decode %s stream chunk: %w", operation, err)
		}
		done, err := handle(chunk)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s stream: %w", operation, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("ollama %s stream ended before done", operation)
}

func (c *Client) post(ctx context.Context, path string, payload any, operation string) (*http.Response, func(), error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s request: %w", operation, err)
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("ollama %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer release()
		defer resp.Body.Close()
		return nil, nil, formatOllamaHTTPError(operation, resp)
	}
	return resp, release, nil
}

func formatOllamaHTTPError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}
