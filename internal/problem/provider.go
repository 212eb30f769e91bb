package problem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codeclash-dev/codeclash/internal/util/httputil"
)

// Provider hands back a ready problem for a skill level and language.
type Provider interface {
	Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error)
}

type ProviderOptions struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api-key"`
}

// HTTPProvider calls an external content-generation service. The service is
// trusted to match the wire format; anything malformed is an error and the
// caller falls back to the stored pool.
type HTTPProvider struct {
	o      ProviderOptions
	client *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(o ProviderOptions, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPProvider{o: o, client: httpClient}
}

type generateRequest struct {
	Trophies int    `json:"trophies"`
	Language string `json:"language"`
}

func (p *HTTPProvider) Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	data, err := json.Marshal(&generateRequest{Trophies: avgTrophies, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	hReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.o.Endpoint+"/generate", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	hReq.Header.Set("Content-Type", "application/json")
	if p.o.APIKey != "" {
		hReq.Header.Set("X-API-Key", p.o.APIKey)
	}
	hRsp, err := p.client.Do(hReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, hRsp.Body)
		_ = hRsp.Body.Close()
	}()
	if err := httputil.ErrorFromResponse(hRsp); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	body, err := io.ReadAll(hRsp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var prob Problem
	if err := json.Unmarshal(body, &prob); err != nil {
		return nil, fmt.Errorf("unmarshal problem: %w", err)
	}
	if err := prob.Validate(); err != nil {
		return nil, fmt.Errorf("bad problem from provider: %w", err)
	}
	return &prob, nil
}
