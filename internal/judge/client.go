package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/codeclash-dev/codeclash/internal/util/httputil"
)

type ClientOptions struct {
	Endpoint string `toml:"endpoint"`
	// Optional RapidAPI credentials; left empty for self-hosted judges.
	APIKey  string `toml:"api-key"`
	APIHost string `toml:"api-host"`
}

// Client talks to a judge0-compatible execution service.
type Client struct {
	o      ClientOptions
	client *http.Client
}

func NewClient(o ClientOptions, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{o: o, client: httpClient}
}

func (c *Client) setUpRequest(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.o.APIKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.o.APIKey)
		req.Header.Set("X-RapidAPI-Host", c.o.APIHost)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal json: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	hReq, err := http.NewRequestWithContext(ctx, method, c.o.Endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setUpRequest(hReq)
	hRsp, err := c.client.Do(hReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, hRsp.Body)
		_ = hRsp.Body.Close()
	}()
	if err := httputil.ErrorFromResponse(hRsp); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	data, err := io.ReadAll(hRsp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Submit queues one execution and returns its token. The judge is asked not
// to block on completion; the result is fetched via GetSubmission.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	var rsp SubmitResponse
	err := c.do(ctx, http.MethodPost, "/submissions?base64_encoded=false&wait=false", req, &rsp)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if rsp.Token == "" {
		return "", fmt.Errorf("submit: empty token")
	}
	return rsp.Token, nil
}

func (c *Client) GetSubmission(ctx context.Context, token string) (*SubmissionResult, error) {
	var rsp SubmissionResult
	path := "/submissions/" + url.PathEscape(token) + "?base64_encoded=false"
	if err := c.do(ctx, http.MethodGet, path, nil, &rsp); err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &rsp, nil
}
