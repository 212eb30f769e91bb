package judge

import (
	"errors"

	"github.com/codeclash-dev/codeclash/internal/util/clone"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Submission status ids, judge0 numbering: 1-2 are non-terminal, 3 is
// accepted, everything above is a definitive failure.
const (
	StatusInQueue    = 1
	StatusProcessing = 2
	StatusAccepted   = 3
)

// languageIDs maps player-facing language names to judge language ids.
var languageIDs = map[string]int{
	"javascript": 63,
	"python":     71,
	"java":       62,
	"cpp":        54,
	"c":          50,
	"typescript": 74,
	"go":         60,
}

func LanguageID(language string) (int, bool) {
	id, ok := languageIDs[language]
	return id, ok
}

type SubmitRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type SubmitResponse struct {
	Token string `json:"token"`
}

type StatusInfo struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// SubmissionResult is the judge's view of one submission. Time is a decimal
// string of seconds, as the judge reports it.
type SubmissionResult struct {
	Status        StatusInfo `json:"status"`
	Stdout        *string    `json:"stdout,omitempty"`
	Stderr        *string    `json:"stderr,omitempty"`
	CompileOutput *string    `json:"compile_output,omitempty"`
	Time          *string    `json:"time,omitempty"`
	Memory        *int       `json:"memory,omitempty"`
}

// TestCase is one stdin/expected-stdout pair to run the code against.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// TestResult is the graded outcome of one test case. Immutable once
// produced; Runtime and Memory stay nil when the judge did not report them.
type TestResult struct {
	Index   int      `json:"index"`
	Passed  bool     `json:"passed"`
	Runtime *float64 `json:"runtime,omitempty"`
	Memory  *int     `json:"memory,omitempty"`
	Output  string   `json:"output,omitempty"`
	Err     string   `json:"error,omitempty"`
}

func (r TestResult) Clone() TestResult {
	res := r
	res.Runtime = clone.TrivialPtr(r.Runtime)
	res.Memory = clone.TrivialPtr(r.Memory)
	return res
}
