// Command comprice answers questions about computer hardware devices using
// a tool-calling agent over a device catalog and a knowledge base.
//
// Usage:
//
//	comprice -q "Which laptops have 16GB RAM under 700 USD?"
//	comprice -demo -seed devices.yaml
//	echo "Explain CPU tiers" | comprice
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/app"
	"github.com/nevindra/comprice/internal/config"
	"github.com/nevindra/comprice/internal/fixture"
)

// demoQueries exercise retrieval, structured queries and both together.
var demoQueries = []string{
	"List all Samsung desktops released after 2021 with more than 8 CPU cores and a price under 1500 USD.",
	"Explain what CPU tier means in this dataset and how it affects performance.",
	"What are the top 3 most affordable laptops with at least 16GB RAM and explain what makes a good CPU for laptops?",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("comprice", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "path to comprice.toml (default $COMPRICE_CONFIG or ./comprice.toml)")
		question   = fs.String("q", "", "answer a single question")
		demo       = fs.Bool("demo", false, "run the built-in demo questions")
		seed       = fs.String("seed", "", "load devices and docs from a YAML seed file before answering")
		seedDemo   = fs.Bool("seed-demo", false, "load the built-in sample catalog before answering")
		importCSV  = fs.String("import", "", "bulk-load devices from a CSV file (duckdb driver)")
		asJSON     = fs.Bool("json", false, "print outcomes as JSON")
		showTrace  = fs.Bool("trace", false, "print tool calls for each answer")
		noColor    = fs.Bool("no-color", false, "disable colored output")
		verbose    = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx, stop := app.SignalContext()
	defer stop()

	a, err := app.Build(ctx, &cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.Close(context.Background())

	if err := load(ctx, a, *seed, *seedDemo, *importCSV, logger); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	var questions []string
	switch {
	case *question != "":
		questions = []string{*question}
	case *demo:
		questions = demoQueries
	case *seed != "" || *seedDemo || *importCSV != "":
		return 0
	default:
		questions, err = readQuestions(stdin)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	r := newRenderer(stdout, *noColor)
	failed := 0
	for i, q := range questions {
		if ctx.Err() != nil {
			break
		}
		out := a.Ask(ctx, q)
		if !out.Answered() {
			failed++
		}
		if *asJSON {
			if err := writeJSON(stdout, q, out); err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
			continue
		}
		r.outcome(i+1, q, out, *showTrace)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func load(ctx context.Context, a *app.App, seedPath string, seedDemo bool, csvPath string, logger *slog.Logger) error {
	if csvPath != "" {
		n, err := a.ImportCSV(ctx, csvPath)
		if err != nil {
			return err
		}
		logger.Info("imported devices", "path", csvPath, "rows", n)
	}
	var f *fixture.File
	var err error
	switch {
	case seedPath != "":
		f, err = fixture.Load(seedPath)
	case seedDemo:
		f, err = fixture.Demo()
	default:
		return nil
	}
	if err != nil {
		return err
	}
	_, err = a.Seed(ctx, f)
	return err
}

// readQuestions reads one question per non-blank line.
func readQuestions(r io.Reader) ([]string, error) {
	var qs []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			qs = append(qs, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return qs, nil
}

func writeJSON(w io.Writer, q string, out comprice.Outcome) error {
	rec := struct {
		Question string `json:"question"`
		comprice.Outcome
		Error string `json:"error,omitempty"`
	}{Question: q, Outcome: out}
	rec.Conversation = nil
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	enc := json.NewEncoder(w)
	return enc.Encode(rec)
}
