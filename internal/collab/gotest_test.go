package collab

import (
	"strings"
	"testing"
)

const testStream = `{"Action":"run","Package":"kiln/widget","Test":"TestAdd"}
{"Action":"output","Package":"kiln/widget","Test":"TestAdd","Output":"=== RUN   TestAdd\n"}
{"Action":"pass","Package":"kiln/widget","Test":"TestAdd","Elapsed":0.01}
{"Action":"run","Package":"kiln/widget","Test":"TestSub"}
{"Action":"output","Package":"kiln/widget","Test":"TestSub","Output":"=== RUN   TestSub\n"}
{"Action":"output","Package":"kiln/widget","Test":"TestSub","Output":"    widget_test.go:20: want 1, got 2\n"}
{"Action":"output","Package":"kiln/widget","Test":"TestSub","Output":"--- FAIL: TestSub (0.00s)\n"}
{"Action":"fail","Package":"kiln/widget","Test":"TestSub","Elapsed":0.01}
{"Action":"run","Package":"kiln/widget","Test":"TestSkippy"}
{"Action":"skip","Package":"kiln/widget","Test":"TestSkippy","Elapsed":0}
{"Action":"output","Package":"kiln/widget","Output":"coverage: 81.5% of statements\n"}
{"Action":"fail","Package":"kiln/widget","Elapsed":0.05}
`

func TestGoTestRunner_Parse(t *testing.T) {
	r := NewGoTestRunner()
	res := r.parse([]byte(testStream))

	if res.Passed != 1 || res.Failed != 1 || res.Skipped != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", res.Passed, res.Failed, res.Skipped)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(res.Failures))
	}

	f := res.Failures[0]
	if f.Name != "TestSub" {
		t.Errorf("failure name = %q", f.Name)
	}
	if f.File != "kiln/widget" {
		t.Errorf("failure file = %q", f.File)
	}
	if !strings.Contains(f.Message, "want 1, got 2") {
		t.Errorf("failure message = %q", f.Message)
	}
	// RUN/FAIL banners are noise, not message content.
	if strings.Contains(f.Message, "=== RUN") || strings.Contains(f.Message, "--- FAIL") {
		t.Errorf("banners leaked into message: %q", f.Message)
	}

	if res.Coverage.Statements != 81.5 {
		t.Errorf("coverage = %.1f, want 81.5", res.Coverage.Statements)
	}
}

func TestGoTestRunner_ParsePackageLevelFailOnly(t *testing.T) {
	// A package-level fail event (no Test field) is a suite marker, not a
	// distinct failing test.
	stream := `{"Action":"fail","Package":"kiln/widget","Elapsed":0.01}` + "\n"
	res := NewGoTestRunner().parse([]byte(stream))
	if res.Failed != 0 || len(res.Failures) != 0 {
		t.Errorf("package-level fail counted as test failure: %+v", res)
	}
}

func TestGoTestRunner_ParseEmptyStream(t *testing.T) {
	res := NewGoTestRunner().parse(nil)
	if res.Passed != 0 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("empty stream produced counts: %+v", res)
	}
}

func TestGoTestRunner_CoverageAveragesPackages(t *testing.T) {
	stream := `{"Action":"output","Package":"a","Output":"coverage: 80.0% of statements\n"}
{"Action":"output","Package":"b","Output":"coverage: 90.0% of statements\n"}
`
	res := NewGoTestRunner().parse([]byte(stream))
	if res.Coverage.Statements != 85 {
		t.Errorf("coverage = %.1f, want 85", res.Coverage.Statements)
	}
}
