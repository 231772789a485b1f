package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apex/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run conformance scenarios",
		Long: `Run scenario files against a fresh temporary ledger with a
deterministic clock and transaction ids. Directories are searched for
*.yaml and *.yml files.

When golden/<name>.golden exists next to the scenario (or next to its
directory), the canonical trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  apex test ./scenarios
  apex test ./scenarios --filter "transfer_*"
  apex test ./scenarios/blocked_import.yaml --update
  apex test ./scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	var scenarioFiles []string
	for _, p := range paths {
		files, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "find scenarios", err)
		}
		scenarioFiles = append(scenarioFiles, files...)
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}
	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return outputTestJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, f := range scenarioFiles {
		sr := runScenario(f, opts, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	var err error
	if opts.Format == "json" {
		err = outputTestJSON(cmd, result)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return reportedExit(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// findScenarioFiles returns path itself if it is a file, or every YAML
// file below it.
func findScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(filepath.Base(p), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func runScenario(file string, opts *TestOptions, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	fail := func(name string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Errors: errs}
	}

	s, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), fmt.Sprintf("load error: %v", err))
	}
	result, err := harness.Run(cmd.Context(), s)
	if err != nil {
		return fail(s.Name, fmt.Sprintf("execution error: %v", err))
	}
	if !result.Pass {
		return fail(s.Name, result.Errors...)
	}

	data, err := harness.NewSnapshot(s.Name, result).Canonical()
	if err != nil {
		return fail(s.Name, fmt.Sprintf("snapshot: %v", err))
	}
	goldenPath, exists := goldenFilePath(file, s.Name)

	note := ""
	switch {
	case opts.Update:
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			return fail(s.Name, fmt.Sprintf("golden update error: %v", err))
		}
		if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
			return fail(s.Name, fmt.Sprintf("golden update error: %v", err))
		}
		note = " (golden updated)"
	case exists:
		want, err := os.ReadFile(goldenPath)
		if err != nil {
			return fail(s.Name, fmt.Sprintf("golden read error: %v", err))
		}
		if !bytes.Equal(want, data) {
			return fail(s.Name, "trace does not match golden file (run with --update to regenerate)")
		}
	}

	if text {
		fmt.Fprintf(w, "✓ %s%s\n", s.Name, note)
	}
	return ScenarioResult{Name: s.Name, Pass: true}
}

// goldenFilePath looks for golden/<name>.golden beside the scenario, then
// beside its directory. The first candidate is returned when neither
// exists.
func goldenFilePath(scenarioFile, name string) (string, bool) {
	dir := filepath.Dir(scenarioFile)
	candidates := []string{
		filepath.Join(dir, "golden", name+".golden"),
		filepath.Join(filepath.Dir(dir), "golden", name+".golden"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return candidates[0], false
}

func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}
	return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: status, Data: result})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
