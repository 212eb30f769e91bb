package problem

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/codeclash-dev/codeclash/internal/util/backoff"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

// noRetryOptions keeps tests with a dead provider from sleeping through
// the retry schedule.
func noRetryOptions() SourceOptions {
	return SourceOptions{Backoff: backoff.Options{MaxAttempts: 1}}
}

func sampleProblem(id, difficulty string) *Problem {
	return &Problem{
		ID:                   id,
		Title:                "Array Sum",
		Description:          "Sum the numbers.",
		Difficulty:           difficulty,
		EstimatedTimeSeconds: 1200,
		Language:             "python",
		TestCases: []TestCase{
			{Input: "3\n1 2 3", ExpectedOutput: "6"},
		},
	}
}

type memPool struct {
	mu    sync.Mutex
	saved []*Problem
	pick  *Problem
	picks int
}

func (p *memPool) PickProblem(ctx context.Context, difficulty, language string) (*Problem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.picks++
	if p.pick == nil {
		return nil, fmt.Errorf("no stored problem for %v/%v", difficulty, language)
	}
	return p.pick, nil
}

func (p *memPool) SaveProblem(ctx context.Context, prob *Problem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, prob)
	return nil
}

func TestHTTPProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/generate" {
			http.NotFound(w, req)
			return
		}
		var body generateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body.Trophies != 1550 || body.Language != "python" {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(sampleProblem("prob-1", "Medium"))
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderOptions{Endpoint: srv.URL}, srv.Client())
	prob, err := p.Generate(context.Background(), 1550, "python")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if prob.ID != "prob-1" || len(prob.TestCases) != 1 {
		t.Fatalf("unexpected problem: %+v", prob)
	}
}

func TestHTTPProviderRejectsInvalidPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewEncoder(w).Encode(&Problem{ID: "prob-2", Title: "No Tests"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(ProviderOptions{Endpoint: srv.URL}, srv.Client())
	if _, err := p.Generate(context.Background(), 100, "go"); err == nil {
		t.Fatal("problem without test cases must be rejected")
	}
}

type failingProvider struct{}

func (failingProvider) Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	return nil, fmt.Errorf("provider down")
}

type okProvider struct{ prob *Problem }

func (p okProvider) Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	return p.prob, nil
}

func TestSourceFallsBackToPool(t *testing.T) {
	pool := &memPool{pick: sampleProblem("stored-1", "Medium")}
	src := NewSource(slogx.DiscardLogger(), failingProvider{}, pool, noRetryOptions())

	prob, err := src.Generate(context.Background(), 1500, "python")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if prob.ID != "stored-1" {
		t.Fatalf("expected stored problem, got %+v", prob)
	}
}

func TestSourceErrorsWhenNothingAvailable(t *testing.T) {
	pool := &memPool{}
	src := NewSource(slogx.DiscardLogger(), failingProvider{}, pool, noRetryOptions())

	_, err := src.Generate(context.Background(), 1500, "python")
	if err == nil {
		t.Fatal("expected error when provider and pool both fail")
	}
}

type flakyProvider struct {
	mu    sync.Mutex
	fails int
	prob  *Problem
	calls int
}

func (p *flakyProvider) Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.fails {
		return nil, fmt.Errorf("provider hiccup")
	}
	return p.prob, nil
}

func TestSourceRetriesProvider(t *testing.T) {
	pool := &memPool{}
	provider := &flakyProvider{fails: 2, prob: sampleProblem("fresh-2", "Medium")}
	src := NewSource(slogx.DiscardLogger(), provider, pool, SourceOptions{
		Backoff: backoff.Options{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3},
	})

	prob, err := src.Generate(context.Background(), 1500, "python")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if prob.ID != "fresh-2" {
		t.Fatalf("unexpected problem: %+v", prob)
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", provider.calls)
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if pool.picks != 0 {
		t.Fatal("fallback pool must not be consulted when retries succeed")
	}
}

func TestSourceSavesFreshProblems(t *testing.T) {
	pool := &memPool{}
	fresh := sampleProblem("fresh-1", "Easy")
	src := NewSource(slogx.DiscardLogger(), okProvider{prob: fresh}, pool, SourceOptions{})

	prob, err := src.Generate(context.Background(), 500, "python")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if prob.ID != "fresh-1" {
		t.Fatalf("unexpected problem: %+v", prob)
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if len(pool.saved) != 1 || pool.saved[0].ID != "fresh-1" {
		t.Fatalf("fresh problem must land in the fallback pool, saved: %v", pool.saved)
	}
}

func TestBandForTrophies(t *testing.T) {
	for _, tc := range []struct {
		trophies int
		want     string
	}{
		{0, "Easy"},
		{999, "Easy"},
		{1000, "Medium"},
		{2500, "Hard"},
		{3999, "Very Hard"},
		{4000, "Expert"},
	} {
		if got := BandForTrophies(tc.trophies).Difficulty; got != tc.want {
			t.Errorf("band for %d: want %v, got %v", tc.trophies, tc.want, got)
		}
	}
}
