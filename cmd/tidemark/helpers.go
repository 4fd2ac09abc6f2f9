package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tidemark/internal/config"
	"tidemark/internal/handoff"
)

// loadRun returns the run configuration: defaults when path is empty, the
// parsed file otherwise.
func loadRun(path string) (config.Run, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore builds the draw handoff for a run. Process isolation needs the
// filesystem; otherwise an unset handoff_dir means in-memory.
func openStore(cfg config.Run) (handoff.Store, error) {
	dir := cfg.HandoffDir
	if dir == "" {
		if !cfg.Isolate {
			return handoff.NewMemStore(), nil
		}
		dir = defaultHandoffDir
	}
	return handoff.NewFSStore(dir)
}

const defaultHandoffDir = ".tidemark/handoff"

// readFloats reads one float per line, skipping blanks and '#' comments.
// Used for covariate and bound files.
func readFloats(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []float64
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// writeCSVFile creates path and streams rows through the given writer func.
func writeCSVFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
