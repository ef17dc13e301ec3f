package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docutag/taxonomy"
	"github.com/docutag/taxonomy/models"
)

const usage = `Usage:
  taxonomy build -in urls.txt [-out tree.json] [-max-depth-warning 10] [-allowed-hosts a.com,b.com]
  taxonomy match -sources reported.txt -targets canonical.txt [-out matches.json] [-min-confidence 0.7] [-require-same-domain]

URL files hold one URL per line; blank lines and lines starting with # are skipped.
A build input ending in .json is read as an array of {url, title, last_modified, metadata} records.
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one subcommand and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "build":
		err = runBuild(ctx, args[1:], stdout, stderr)
	case "match":
		err = runMatch(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s error: %v\n", args[0], err)
		return 1
	}
	return 0
}

func newLogger(stderr io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func runBuild(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	defaults := taxonomy.DefaultConfig()

	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "URL list or JSON records file (required)")
	out := fs.String("out", "", "Optional path to write the JSON result")
	maxDepth := fs.Int("max-depth-warning", defaults.Hierarchy.MaxDepthWarning, "Depth above which a warning is emitted")
	allowedHosts := fs.String("allowed-hosts", "", "Comma-separated hosts to keep; empty keeps all")
	noRootAttach := fs.Bool("no-root-attach", false, "Keep deep pages with no ancestor as roots instead of attaching them to the domain root")
	verbose := fs.Bool("v", false, "Log warnings to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	records, err := readRecords(*in)
	if err != nil {
		return err
	}

	config := defaults
	config.Hierarchy.MaxDepthWarning = *maxDepth
	config.Hierarchy.AttachToDomainRoot = !*noRootAttach
	config.Hierarchy.AllowedHosts = splitList(*allowedHosts)

	service, err := taxonomy.New(config, taxonomy.WithLogger(newLogger(stderr, *verbose)))
	if err != nil {
		return err
	}

	result, err := service.BuildHierarchy(ctx, records)
	if err != nil {
		return err
	}
	return writeJSON(stdout, *out, result)
}

func runMatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	defaults := taxonomy.DefaultConfig()

	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sourcesPath := fs.String("sources", "", "File of reported URLs to resolve (required)")
	targetsPath := fs.String("targets", "", "File of canonical URLs (required)")
	out := fs.String("out", "", "Optional path to write the JSON result")
	minConfidence := fs.Float64("min-confidence", defaults.Matcher.MinConfidence, "Minimum confidence for a match (0.0-1.0)")
	requireSameDomain := fs.Bool("require-same-domain", false, "Only match URLs on the same registrable domain")
	verbose := fs.Bool("v", false, "Log batch summary to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sourcesPath == "" || *targetsPath == "" {
		return fmt.Errorf("-sources and -targets are required")
	}

	sources, err := readLines(*sourcesPath)
	if err != nil {
		return err
	}
	targets, err := readLines(*targetsPath)
	if err != nil {
		return err
	}

	config := defaults
	config.Matcher.MinConfidence = *minConfidence
	config.Matcher.Similarity.RequireSameDomain = *requireSameDomain

	service, err := taxonomy.New(config, taxonomy.WithLogger(newLogger(stderr, *verbose)))
	if err != nil {
		return err
	}

	output, err := service.Match(ctx, sources, targets, taxonomy.MatchOptions{})
	if err != nil {
		return err
	}
	return writeJSON(stdout, *out, output)
}

// readLines reads a URL list, skipping blank and comment lines
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// readRecords reads hierarchy input as JSON records or a plain URL list
func readRecords(path string) ([]models.RawURLRecord, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var records []models.RawURLRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return records, nil
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	records := make([]models.RawURLRecord, len(lines))
	for i, line := range lines {
		records[i] = models.RawURLRecord{URL: line}
	}
	return records, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeJSON prints v to stdout, or writes it to path when set
func writeJSON(stdout io.Writer, path string, v interface{}) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	payload = append(payload, '\n')

	if path == "" {
		_, err := stdout.Write(payload)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Wrote JSON result: %s\n", path)
	return nil
}
