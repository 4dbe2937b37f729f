// Package main evaluates one placement request against a CSV metrics file
// without starting the service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sliceorch/placement/internal/domain"
	"github.com/sliceorch/placement/internal/repository/csvfile"
	"github.com/sliceorch/placement/internal/scheduler"
	placementservice "github.com/sliceorch/placement/internal/services/placement"
)

func main() {
	csvPath := flag.String("csv", "data", "CSV metrics file, or a directory holding one")
	requestPath := flag.String("request", "-", "JSON placement request file, - for stdin")
	window := flag.Duration("window", scheduler.DefaultOverloadWindow, "Overload analysis window")
	threshold := flag.Float64("regime-threshold", scheduler.DefaultRegimeThreshold, "Scarcity regime threshold")
	verbose := flag.Bool("v", false, "Log engine decisions")
	flag.Parse()

	level := zapcore.WarnLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	req, err := readRequest(*requestPath)
	if err != nil {
		logger.Fatal("Failed to read placement request", zap.Error(err))
	}

	repo := csvfile.NewMetricsRepository(*csvPath, logger)
	sched := scheduler.New(repo, scheduler.DefaultZones(), scheduler.Config{
		OverloadWindow:  *window,
		RegimeThreshold: *threshold,
		DefaultZone:     scheduler.DefaultZone,
	}, logger)
	svc := placementservice.NewService(sched, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp := svc.Place(ctx, req)

	diag := resp.Diagnostics
	resp.Diagnostics = nil
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		logger.Fatal("Failed to encode response", zap.Error(err))
	}

	if diag != nil {
		fmt.Println()
		printDiagnostics(os.Stdout, diag)
	}

	if !resp.CanDeploy {
		os.Exit(2)
	}
}

func readRequest(path string) (*placementservice.Request, error) {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var req placementservice.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request JSON: %w", err)
	}
	return &req, nil
}

// printDiagnostics writes one row per candidate worker.
func printDiagnostics(out io.Writer, diag *domain.Diagnostics) {
	if diag.ZoneFallback {
		fmt.Fprintf(out, "zone %q unknown, default zone used\n\n", diag.RequestedZone)
	}

	feasible := make(map[string]domain.FeasibilityResult, len(diag.Feasibility))
	for _, f := range diag.Feasibility {
		feasible[f.WorkerID] = f
	}
	overload := make(map[string]domain.OverloadVerdict, len(diag.Overload))
	for _, o := range diag.Overload {
		overload[o.WorkerID] = o
	}
	scores := make(map[string]domain.CompetitionScore, len(diag.Scores))
	for _, s := range diag.Scores {
		scores[s.WorkerID] = s
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tFEASIBLE\tLOAD\tLONGEST RUN\tFREE CPU\tFREE RAM GB\tFREE DISK GB\tSCORE\tREASONS")
	for _, id := range diag.Candidates {
		f := feasible[id]
		o, hasVerdict := overload[id]
		load := "-"
		run := "-"
		if hasVerdict {
			load = string(o.State)
			run = o.LongestRun.String()
		}
		score := "-"
		if s, ok := scores[id]; ok {
			score = fmt.Sprintf("%.4f", s.Score)
		}
		reasons := f.RejectReasons
		if f.Feasible {
			reasons = f.AcceptReasons
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%.2f\t%.2f\t%.2f\t%s\t%v\n",
			id, f.Feasible, load, run, f.Free.CPU, f.Free.RAMGB, f.Free.StorageGB, score, reasons)
	}
	w.Flush()

	if len(diag.CoWinners) > 0 {
		fmt.Fprintf(out, "\nco-winners: %v\n", diag.CoWinners)
	}
}
