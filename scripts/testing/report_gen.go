package main

import (
	"bufio"
	"cmp"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// TestMetadata holds the annotations written above a test function
type TestMetadata struct {
	Name     string `json:"name"`
	Purpose  string `json:"purpose,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Security string `json:"security,omitempty"`
	Expected string `json:"expected,omitempty"`
	Package  string `json:"package"`
	Category string `json:"category"`
}

// GoTestEvent represents a single event from 'go test -json'
type GoTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// TestResult is the merged result for a single test
type TestResult struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// ReportSummary holds top-level stats
type ReportSummary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []TestResult `json:"results"`
}

// categories maps package directories to report sections.
var categories = []struct{ dir, name string }{
	{"internal/authz", "AuthZ"},
	{"internal/identity", "AuthN"},
	{"internal/oauth2", "OAuth2"},
	{"internal/token", "Tokens"},
	{"internal/keys", "Tokens"},
	{"internal/oidc", "Metadata"},
	{"internal/session", "Sessions"},
	{"internal/transport/http", "API"},
	{"internal/store", "Storage"},
}

func main() {
	inputPath := flag.String("input", "", "Path to go test -json output file")
	outputJSON := flag.String("out-json", "", "Path for output JSON report")
	outputMD := flag.String("out-md", "", "Path for output Markdown report")
	title := flag.String("title", "Test Report", "Report title")
	category := flag.String("category", "", "Only report tests of this category")
	flag.Parse()

	if *inputPath == "" || *outputMD == "" {
		fmt.Fprintln(os.Stderr, "Usage: report_gen -input <json_file> -out-md <out_md> [-out-json <out_json>]")
		os.Exit(2)
	}

	module, err := modulePath("go.mod")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read go.mod: %v\n", err)
		os.Exit(1)
	}

	results, err := parseTestOutput(*inputPath, scanMetadata(module))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read test output: %v\n", err)
		os.Exit(1)
	}
	if *category != "" {
		results = slices.DeleteFunc(results, func(r TestResult) bool {
			return !strings.EqualFold(r.Annotations.Category, *category)
		})
	}

	summary := summarize(results)
	if *outputJSON != "" {
		if err := saveJSON(summary, *outputJSON); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write JSON report: %v\n", err)
			os.Exit(1)
		}
	}
	if err := os.WriteFile(*outputMD, []byte(renderMarkdown(summary, *title)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write Markdown report: %v\n", err)
		os.Exit(1)
	}

	// CI gates on the exit code
	if summary.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%d tests failed\n", summary.Failed)
		os.Exit(1)
	}
}

func modulePath(goMod string) (string, error) {
	f, err := os.Open(goMod)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "module "); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", fmt.Errorf("no module directive in %s", goMod)
}

func scanMetadata(module string) map[string]TestMetadata {
	metadata := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), "_") {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		dir := filepath.ToSlash(filepath.Dir(path))
		pkg := module + "/" + dir
		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}

			meta := TestMetadata{Name: fn.Name.Name, Package: pkg, Category: categoryOf(dir)}
			if fn.Doc != nil {
				for _, line := range fn.Doc.List {
					text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
					if v, ok := strings.CutPrefix(text, "TestPurpose:"); ok {
						meta.Purpose = strings.TrimSpace(v)
					} else if v, ok := strings.CutPrefix(text, "Scope:"); ok {
						meta.Scope = strings.TrimSpace(v)
					} else if v, ok := strings.CutPrefix(text, "Security:"); ok {
						meta.Security = strings.TrimSpace(v)
					} else if v, ok := strings.CutPrefix(text, "Expected:"); ok {
						meta.Expected = strings.TrimSpace(v)
					}
				}
			}
			metadata[pkg+"."+fn.Name.Name] = meta
		}
		return nil
	})

	return metadata
}

func categoryOf(dir string) string {
	for _, c := range categories {
		if strings.HasPrefix(dir, c.dir) {
			return c.name
		}
	}
	return "Other"
}

func parseTestOutput(path string, meta map[string]TestMetadata) ([]TestResult, error) {
	states := make(map[string]*TestResult)
	for key, m := range meta {
		states[key] = &TestResult{Name: m.Name, Package: m.Package, Status: "not run", Annotations: m}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || event.Test == "" {
			continue
		}

		key := event.Package + "." + event.Test
		res, ok := states[key]
		if !ok {
			// Subtests inherit the annotations of their parent
			parent, _, _ := strings.Cut(event.Test, "/")
			annotations := meta[event.Package+"."+parent]
			annotations.Name = event.Test
			annotations.Package = event.Package
			if annotations.Category == "" {
				annotations.Category = "Other"
			}
			res = &TestResult{Name: event.Test, Package: event.Package, Annotations: annotations}
			states[key] = res
		}

		switch event.Action {
		case "pass", "fail":
			res.Status = event.Action
			res.Elapsed = event.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "" || res.Status == "fail" {
				res.Failure += event.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	list := make([]TestResult, 0, len(states))
	for _, v := range states {
		if v.Status != "fail" {
			v.Failure = ""
		}
		list = append(list, *v)
	}
	slices.SortFunc(list, func(a, b TestResult) int {
		return cmp.Or(
			cmp.Compare(a.Annotations.Category, b.Annotations.Category),
			cmp.Compare(a.Package, b.Package),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return list, nil
}

func summarize(results []TestResult) ReportSummary {
	summary := ReportSummary{GeneratedAt: time.Now(), Results: results}
	for _, r := range results {
		summary.Total++
		switch r.Status {
		case "pass":
			summary.Passed++
		case "fail":
			summary.Failed++
		case "skip":
			summary.Skipped++
		}
	}
	return summary
}

func saveJSON(summary ReportSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func renderMarkdown(summary ReportSummary, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Gatekeeper %s\n\n", title)
	fmt.Fprintf(&sb, "Generated %s\n\n", summary.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "| Total | Passed | Failed | Skipped |\n|---|---|---|---|\n| %d | %d | %d | %d |\n",
		summary.Total, summary.Passed, summary.Failed, summary.Skipped)

	current := ""
	for _, r := range summary.Results {
		if r.Annotations.Category != current {
			current = r.Annotations.Category
			fmt.Fprintf(&sb, "\n## %s\n\n| Test | Status | Purpose | Expected |\n|---|---|---|---|\n", current)
		}
		fmt.Fprintf(&sb, "| `%s` | %s | %s | %s |\n", r.Name, r.Status, cell(r.Annotations.Purpose), cell(r.Annotations.Expected))
	}

	var failed []TestResult
	for _, r := range summary.Results {
		if r.Status == "fail" {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n## Failures\n")
		for _, r := range failed {
			fmt.Fprintf(&sb, "\n### %s\n\n```\n%s```\n", r.Name, r.Failure)
		}
	}
	return sb.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
