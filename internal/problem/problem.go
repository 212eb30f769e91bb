package problem

import (
	"fmt"
	"time"

	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/util/clone"
)

// TestCase mirrors the provider wire format; Explanation is informational
// and never shown before the match ends.
type TestCase struct {
	Input          string `json:"stdin"`
	ExpectedOutput string `json:"expected_stdout"`
	Explanation    string `json:"explanation,omitempty"`
}

// Problem is a ready-to-play task handed back by the content provider or
// picked from the stored fallback pool.
type Problem struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Difficulty           string     `json:"difficulty"`
	DifficultyScore      int        `json:"difficulty_score,omitempty"`
	EstimatedTimeSeconds int        `json:"estimated_time_seconds"`
	Hint                 string     `json:"hint,omitempty"`
	Constraints          string     `json:"constraints,omitempty"`
	Language             string     `json:"language"`
	TestCases            []TestCase `json:"testcases"`
	Tags                 []string   `json:"tags,omitempty"`
}

func (p *Problem) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("no problem id")
	}
	if p.Title == "" {
		return fmt.Errorf("no title")
	}
	if len(p.TestCases) == 0 {
		return fmt.Errorf("no test cases")
	}
	if p.EstimatedTimeSeconds < 0 {
		return fmt.Errorf("negative estimated time")
	}
	return nil
}

func (p Problem) Clone() Problem {
	p.TestCases = clone.TrivialSlice(p.TestCases)
	p.Tags = clone.TrivialSlice(p.Tags)
	return p
}

// TimeLimit is how long a match over this problem runs before the timeout
// decision kicks in.
func (p *Problem) TimeLimit() time.Duration {
	if p.EstimatedTimeSeconds <= 0 {
		return 0
	}
	return time.Duration(p.EstimatedTimeSeconds) * time.Second
}

// JudgeCases converts the stored test cases into the grader's format,
// preserving order.
func (p *Problem) JudgeCases() []judge.TestCase {
	cases := make([]judge.TestCase, len(p.TestCases))
	for i, tc := range p.TestCases {
		cases[i] = judge.TestCase{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		}
	}
	return cases
}

// Band is a difficulty bucket derived from the pair's average trophies.
type Band struct {
	Difficulty string
	TimeLimit  time.Duration
}

func BandForTrophies(trophies int) Band {
	switch {
	case trophies < 1000:
		return Band{Difficulty: "Easy", TimeLimit: 600 * time.Second}
	case trophies < 2000:
		return Band{Difficulty: "Medium", TimeLimit: 1200 * time.Second}
	case trophies < 3000:
		return Band{Difficulty: "Hard", TimeLimit: 1800 * time.Second}
	case trophies < 4000:
		return Band{Difficulty: "Very Hard", TimeLimit: 2400 * time.Second}
	default:
		return Band{Difficulty: "Expert", TimeLimit: 3000 * time.Second}
	}
}
