package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jobala/bloomidx/index"
	"github.com/jobala/bloomidx/storage/disk"
	"gopkg.in/yaml.v3"
)

// session is an opened index together with its storage.
type session struct {
	storage *index.Storage
	idx     *index.Index
}

func (s *session) close() error {
	return s.storage.Close()
}

var errArgs = errors.New("wrong number of arguments")

// parseCommon parses the flags every command shares and returns the index
// file argument. Problems are reported to stderr; flag.ErrHelp is returned
// when help was asked for.
func parseCommon(fs *flag.FlagSet, args []string, stderr io.Writer) (*Config, string, error) {
	configPath := fs.String("config", "", "Path to configuration file")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "Error: %s expects exactly one index file\n", fs.Name())
		return nil, "", errArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, "", err
	}

	return cfg, fs.Arg(0), nil
}

// exitCode maps a parseCommon error to the process exit code.
func exitCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 1
}

func openSession(ctx context.Context, cfg *Config, path string, stderr io.Writer, create bool) (*session, error) {
	logger, err := cfg.logger(stderr)
	if err != nil {
		return nil, err
	}

	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}

	storage, err := index.OpenStorage(path, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	var idx *index.Index
	if create {
		idx, err = index.Create(ctx, storage.BPM, cfg.Index, cfg.indexOptions(logger)...)
	} else {
		idx, err = index.Open(storage.BPM, cfg.indexOptions(logger)...)
	}
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	return &session{storage: storage, idx: idx}, nil
}

// createCmd handles the create command.
func createCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	columns := fs.Int("columns", 0, "Number of indexed columns (overrides config)")

	cfg, path, err := parseCommon(fs, args, stderr)
	if err != nil {
		return exitCode(err)
	}

	if *columns > 0 {
		bits := make([]int, *columns)
		copy(bits, cfg.Index.Columns)
		cfg.Index.Columns = bits
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", path)
		return 1
	}

	s, err := openSession(context.Background(), cfg, path, stderr, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating index: %v\n", err)
		_ = os.Remove(path)
		_ = os.Remove(path + ".wal")
		return 1
	}
	defer s.close()

	fmt.Fprintf(stdout, "Created %s\n", path)
	fmt.Fprintf(stdout, "  Signature:  %d bits\n", s.idx.Config().Length*index.BITS_PER_WORD)
	fmt.Fprintf(stdout, "  Columns:    %v bits each\n", s.idx.Config().Columns)
	fmt.Fprintf(stdout, "  Tuple size: %d bytes\n", s.idx.TupleSize())

	return 0
}

// inspectCmd handles the inspect command.
func inspectCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asYAML := fs.Bool("yaml", false, "Print the full report as YAML")

	cfg, path, err := parseCommon(fs, args, stderr)
	if err != nil {
		return exitCode(err)
	}

	ctx := context.Background()
	s, err := openSession(ctx, cfg, path, stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening index: %v\n", err)
		return 1
	}
	defer s.close()

	report, err := s.idx.Inspect(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error inspecting index: %v\n", err)
		return 1
	}

	if *asYAML {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "Error encoding report: %v\n", err)
			return 1
		}
		return 0
	}

	deleted := 0
	for _, p := range report.Pages {
		if p.Deleted || p.New {
			deleted++
		}
	}

	fmt.Fprintf(stdout, "Index %s\n", path)
	fmt.Fprintf(stdout, "  Size:        %s\n", humanize.IBytes(uint64(report.NumPages)*disk.PAGE_SIZE))
	fmt.Fprintf(stdout, "  WAL:         %s\n", humanize.IBytes(uint64(s.storage.WALSize())))
	fmt.Fprintf(stdout, "  Signature:   %d bits\n", report.Config.Length*index.BITS_PER_WORD)
	fmt.Fprintf(stdout, "  Columns:     %v\n", report.Config.Columns)
	fmt.Fprintf(stdout, "  Pages:       %s (%d empty)\n", humanize.Comma(int64(report.NumPages)), deleted)
	fmt.Fprintf(stdout, "  Tuples:      %s\n", humanize.Comma(report.LiveTuples()))
	fmt.Fprintf(stdout, "  Free-list:   %v\n", report.FreeList)

	return 0
}

// cleanupCmd handles the cleanup command.
func cleanupCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg, path, err := parseCommon(fs, args, stderr)
	if err != nil {
		return exitCode(err)
	}

	ctx := context.Background()
	s, err := openSession(ctx, cfg, path, stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening index: %v\n", err)
		return 1
	}
	defer s.close()

	stats, err := s.idx.VacuumCleanup(ctx, nil, false)
	if err != nil {
		fmt.Fprintf(stderr, "Cleanup failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Cleanup completed\n")
	fmt.Fprintf(stdout, "  Pages:         %d\n", stats.NumPages)
	fmt.Fprintf(stdout, "  Pages removed: %d\n", stats.PagesRemoved)
	fmt.Fprintf(stdout, "  Pages free:    %d\n", stats.PagesFree)
	fmt.Fprintf(stdout, "  Tuples:        %d\n", stats.NumIndexTuples)

	return 0
}

// checkCmd handles the check command. It exits with 2 when the index breaks
// a layout rule.
func checkCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg, path, err := parseCommon(fs, args, stderr)
	if err != nil {
		return exitCode(err)
	}

	ctx := context.Background()
	s, err := openSession(ctx, cfg, path, stderr, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening index: %v\n", err)
		return 1
	}
	defer s.close()

	report, err := s.idx.Inspect(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error inspecting index: %v\n", err)
		return 1
	}

	problems := report.Check()
	for _, p := range problems {
		fmt.Fprintf(stdout, "FAIL %s\n", p)
	}
	if n := report.TrailingEmpty(); n > 0 {
		fmt.Fprintf(stdout, "NOTE %d empty pages at the end of the file, run cleanup to truncate\n", n)
	}

	if len(problems) > 0 {
		return 2
	}

	fmt.Fprintf(stdout, "OK %d pages, %d tuples\n", report.NumPages, report.LiveTuples())
	return 0
}
