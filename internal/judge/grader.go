package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

type GraderOptions struct {
	PollInterval time.Duration `toml:"poll-interval"`
	MaxPolls     int           `toml:"max-polls"`
}

func (o *GraderOptions) FillDefaults() {
	if o.PollInterval == 0 {
		o.PollInterval = time.Second
	}
	if o.MaxPolls == 0 {
		o.MaxPolls = 30
	}
}

// Grader runs submitted code against an ordered set of test cases. A judge
// failure on one test case degrades that case to failed and grading moves
// on; only an unsupported language fails the whole run.
type Grader struct {
	client *Client
	o      GraderOptions
	log    *slog.Logger
}

func NewGrader(log *slog.Logger, client *Client, o GraderOptions) *Grader {
	o.FillDefaults()
	return &Grader{
		client: client,
		o:      o,
		log:    log,
	}
}

func (g *Grader) Execute(ctx context.Context, code, language string, cases []TestCase) ([]TestResult, error) {
	languageID, ok := LanguageID(language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	results := make([]TestResult, 0, len(cases))
	for i, tc := range cases {
		res, err := g.runCase(ctx, code, languageID, tc)
		if err != nil {
			g.log.Warn("test case execution failed",
				slog.Int("test_case", i+1), slogx.Err(err))
			results = append(results, TestResult{
				Index:  i + 1,
				Passed: false,
				Err:    "Execution error",
			})
			continue
		}
		results = append(results, g.collect(i+1, res))
	}
	return results, nil
}

func (g *Grader) runCase(ctx context.Context, code string, languageID int, tc TestCase) (*SubmissionResult, error) {
	token, err := g.client.Submit(ctx, &SubmitRequest{
		SourceCode:     code,
		LanguageID:     languageID,
		Stdin:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
	})
	if err != nil {
		return nil, err
	}
	for range g.o.MaxPolls {
		res, err := g.client.GetSubmission(ctx, token)
		if err != nil {
			// Transient poll failures consume an attempt but do not give up.
			g.log.Info("judge poll failed", slogx.Err(err))
		} else if res.Status.ID > StatusProcessing {
			return res, nil
		}
		select {
		case <-time.After(g.o.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("submission %v: no terminal status after %v polls", token, g.o.MaxPolls)
}

func (g *Grader) collect(index int, res *SubmissionResult) TestResult {
	r := TestResult{
		Index:  index,
		Passed: res.Status.ID == StatusAccepted,
	}
	if res.Time != nil {
		if v, err := strconv.ParseFloat(*res.Time, 64); err == nil {
			r.Runtime = &v
		}
	}
	if res.Memory != nil {
		v := *res.Memory
		r.Memory = &v
	}
	if res.Stdout != nil {
		r.Output = *res.Stdout
	}
	switch {
	case res.Stderr != nil && *res.Stderr != "":
		r.Err = *res.Stderr
	case res.CompileOutput != nil && *res.CompileOutput != "":
		r.Err = *res.CompileOutput
	case !r.Passed:
		r.Err = res.Status.Description
	}
	return r
}

// Summarize folds per-test results into the submission-level verdict. A
// missing runtime contributes zero to the total instead of failing it.
func Summarize(results []TestResult) (allPassed bool, totalRuntime float64) {
	allPassed = true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
		}
		if r.Runtime != nil {
			totalRuntime += *r.Runtime
		}
	}
	if len(results) == 0 {
		allPassed = false
	}
	return allPassed, totalRuntime
}
