package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"kiln/internal/logging"
	"kiln/internal/types"
)

// GoTestRunner implements types.TestRunner by running `go test -json`
// in the working directory. Timeouts are this runner's responsibility:
// the scheduler imposes no per-task deadline.
type GoTestRunner struct {
	Timeout time.Duration // Default 10 minutes
}

// NewGoTestRunner creates a test runner with the default timeout.
func NewGoTestRunner() *GoTestRunner {
	return &GoTestRunner{Timeout: 10 * time.Minute}
}

var coverageRe = regexp.MustCompile(`coverage:\s+([0-9.]+)% of statements`)

// goTestEvent is one line of `go test -json` output.
type goTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

// RunTests executes the suite and parses counts, failures, and coverage.
// Failing tests are data, not an error; an error means the suite could
// not be run at all.
func (r *GoTestRunner) RunTests(ctx context.Context, cwd string) (*types.TestResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, "go", "test", "./...", "-json", "-cover")
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("failed to run go test: %w", err)
		}
		// Non-zero exit with parseable output means failing tests.
		if stdout.Len() == 0 {
			return nil, fmt.Errorf("go test produced no output: %s", strings.TrimSpace(stderr.String()))
		}
	}

	result := r.parse(stdout.Bytes())
	result.Duration = time.Since(start)

	logging.Collab("go test in %s: %d passed, %d failed, %d skipped (%.1f%% stmts)",
		cwd, result.Passed, result.Failed, result.Skipped, result.Coverage.Statements)
	return result, nil
}

// parse folds the -json event stream into a TestResult.
func (r *GoTestRunner) parse(raw []byte) *types.TestResult {
	result := &types.TestResult{}
	outputs := make(map[string][]string) // package/test -> captured output

	var coverSum float64
	var coverCount int

	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var evt goTestEvent
		if err := dec.Decode(&evt); err != nil {
			break
		}

		key := evt.Package + "/" + evt.Test
		switch evt.Action {
		case "output":
			if evt.Test != "" {
				outputs[key] = append(outputs[key], evt.Output)
			}
			if m := coverageRe.FindStringSubmatch(evt.Output); m != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					coverSum += pct
					coverCount++
				}
			}
		case "pass":
			if evt.Test != "" {
				result.Passed++
			}
		case "skip":
			if evt.Test != "" {
				result.Skipped++
			}
		case "fail":
			if evt.Test == "" {
				continue
			}
			result.Failed++
			result.Failures = append(result.Failures, types.TestFailure{
				Name:    evt.Test,
				File:    evt.Package,
				Message: failureMessage(outputs[key]),
			})
		}
	}

	if coverCount > 0 {
		pct := coverSum / float64(coverCount)
		result.Coverage.Statements = pct
		result.Coverage.Lines = pct // go test reports statement coverage only
	}
	return result
}

// failureMessage condenses a failing test's output into one message.
func failureMessage(lines []string) string {
	var keep []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "=== RUN") || strings.HasPrefix(l, "--- FAIL") {
			continue
		}
		keep = append(keep, l)
	}
	msg := strings.Join(keep, " | ")
	if len(msg) > 400 {
		msg = msg[:400] + "..."
	}
	if msg == "" {
		msg = "test failed"
	}
	return msg
}
