package problem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codeclash-dev/codeclash/internal/util/backoff"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

// ErrNoProblem means neither the provider nor the fallback pool could serve
// a problem; the match cannot be created.
var ErrNoProblem = errors.New("no problem available")

// FallbackStore is the persisted problem pool.
type FallbackStore interface {
	PickProblem(ctx context.Context, difficulty, language string) (*Problem, error)
	SaveProblem(ctx context.Context, p *Problem) error
}

type SourceOptions struct {
	SaveTimeout time.Duration   `toml:"save-timeout"`
	Backoff     backoff.Options `toml:"backoff"`
}

func (o *SourceOptions) FillDefaults() {
	if o.SaveTimeout == 0 {
		o.SaveTimeout = 10 * time.Second
	}
	// Players are already paired while we wait, so retries stay short.
	if o.Backoff.Min == 0 {
		o.Backoff.Min = 200 * time.Millisecond
	}
	if o.Backoff.Max == 0 {
		o.Backoff.Max = 2 * time.Second
	}
	if o.Backoff.MaxAttempts == 0 {
		o.Backoff.MaxAttempts = 3
	}
}

// Source asks the provider first and degrades to a stored problem in the
// same difficulty band when the provider misbehaves. Fresh problems are
// stashed back into the pool to serve as future fallbacks.
type Source struct {
	provider Provider
	store    FallbackStore
	o        SourceOptions
	log      *slog.Logger
	group    singleflight.Group
}

func NewSource(log *slog.Logger, provider Provider, store FallbackStore, o SourceOptions) *Source {
	o.FillDefaults()
	return &Source{
		provider: provider,
		store:    store,
		o:        o,
		log:      log,
	}
}

func (s *Source) Generate(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	prob, err := s.fetch(ctx, avgTrophies, language)
	if err == nil {
		s.save(prob)
		return prob, nil
	}
	s.log.Warn("problem provider failed, using fallback pool",
		slog.Int("avg_trophies", avgTrophies),
		slog.String("language", language),
		slogx.Err(err),
	)

	band := BandForTrophies(avgTrophies)
	key := band.Difficulty + "/" + language
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.store.PickProblem(ctx, band.Difficulty, language)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fallback: %v", ErrNoProblem, err)
	}
	fallback := v.(*Problem).Clone()
	return &fallback, nil
}

func (s *Source) fetch(ctx context.Context, avgTrophies int, language string) (*Problem, error) {
	bo, err := backoff.New(s.o.Backoff)
	if err != nil {
		return nil, fmt.Errorf("create backoff: %w", err)
	}
	for {
		prob, err := s.provider.Generate(ctx, avgTrophies, language)
		if err == nil {
			return prob, nil
		}
		s.log.Info("problem provider attempt failed",
			slog.Int("avg_trophies", avgTrophies),
			slog.String("language", language),
			slogx.Err(err),
		)
		if err := bo.Retry(ctx, err); err != nil {
			return nil, err
		}
	}
}

func (s *Source) save(p *Problem) {
	ctx, cancel := context.WithTimeout(context.Background(), s.o.SaveTimeout)
	defer cancel()
	if err := s.store.SaveProblem(ctx, p); err != nil {
		s.log.Warn("could not save problem to fallback pool",
			slog.String("problem_id", p.ID), slogx.Err(err))
	}
}
