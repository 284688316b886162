// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient is the subset of *http.Client used by adapters.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client whose timeout is a hard deadline for the
// whole exchange, including reading a streamed body.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

const maxErrorBody = 512

// PostJSON marshals body, POSTs it and returns the response when the
// status is 2xx. Every other outcome becomes a *ProviderError:
// transport failures SERVICE, non-2xx statuses via CategoryForStatus.
// The caller owns closing the returned body.
func PostJSON(ctx context.Context, client HTTPClient, provider, url string, headers map[string]string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Errorf(provider, CategoryValidation, "failed to encode request: %v", err).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Errorf(provider, CategoryInternal, "failed to build request: %v", err).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		return nil, StatusError(provider, resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// StatusError builds the error for a non-2xx response, extracting the
// backend's own message when the body is JSON.
func StatusError(provider string, status int, body io.Reader) *ProviderError {
	raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	message := extractErrorMessage(raw)
	if message == "" {
		message = http.StatusText(status)
	}
	e := &ProviderError{
		Provider:   provider,
		Category:   CategoryForStatus(status),
		Message:    message,
		StatusCode: status,
	}
	e.WithContext("status", status)
	if len(raw) > 0 {
		e.WithContext("body", truncate(string(raw), maxErrorBody))
	}
	return e
}

func transportError(provider string, err error) *ProviderError {
	msg := "request failed: " + err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	} else if errors.Is(err, context.Canceled) {
		msg = "request cancelled"
	}
	return NewProviderError(provider, CategoryService, msg).WithCause(err)
}

// ReadError wraps a failure while reading or decoding a response body.
func ReadError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transportError(provider, err)
	}
	return Errorf(provider, CategoryService, "malformed response: %v", err).WithCause(err)
}

// DecodeJSON reads a full JSON body into v and, optionally, into raw.
func DecodeJSON(provider string, body io.Reader, v interface{}, raw *map[string]interface{}) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return ReadError(provider, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ReadError(provider, err)
	}
	if raw != nil {
		_ = json.Unmarshal(data, raw)
	}
	return nil
}

// ScanLines calls fn for each non-empty line of a streamed body as it
// arrives. fn returns done=true to stop early. Errors returned by fn are
// passed through unchanged.
func ScanLines(provider string, body io.Reader, fn func(line string) (done bool, err error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		done, err := fn(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return ReadError(provider, err)
	}
	return nil
}

// SSEData returns the payload of an SSE "data:" line.
func SSEData(line string) (string, bool) {
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// SinkError wraps a failure returned by the caller's stream sink.
func SinkError(provider string, err error) *ProviderError {
	return NewProviderError(provider, CategoryService, "stream consumer aborted").WithCause(err)
}

func extractErrorMessage(raw []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return strings.TrimSpace(truncate(string(raw), 200))
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Error) == 0 {
		return ""
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	var flat string
	if err := json.Unmarshal(envelope.Error, &flat); err == nil {
		return flat
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
