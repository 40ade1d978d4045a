package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/auth"
	"github.com/sakif/pyrun-jupyter/internal/config"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/executor/jupyter"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
	"github.com/sakif/pyrun-jupyter/internal/params"
)

const usage = `Usage: pyrun-jupyter <command> [arguments] [flags]

Execute Python code on remote Jupyter servers.

Commands:
  run <code>         Execute Python code
  run-file <path>    Execute a Python file
  token              Mint an API token for the pyrun-jupyter server

Flags for run and run-file:
  --url string       Jupyter server URL, e.g. http://localhost:8888 ($PYRUN_URL)
  --token string     Jupyter server token ($PYRUN_TOKEN)
  --kernel string    kernel name (default "python3")
  --timeout value    maximum execution time, seconds or a duration (default 60)
  --params string    run-file only: '{"lr": 0.01}' or "lr=0.01,epochs=100"
  --config string    YAML config file ($PYRUN_CONFIG)
  --verbose          log protocol activity to stderr

Examples:
  pyrun-jupyter run "print('hello')" --url http://localhost:8888 --token xxx
  pyrun-jupyter run-file train.py --url http://localhost:8888 --params '{"lr": 0.01, "epochs": 100}'
  pyrun-jupyter run-file train.py --url http://localhost:8888 --params "lr=0.01,epochs=100"
`

// run is the whole CLI; main only wires process state into it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	switch args[0] {
	case "--version", "-version", "version":
		fmt.Fprintf(stdout, "pyrun-jupyter %s\n", version)
		return 0
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "run":
		return runCode(ctx, args[1:], stdout, stderr)
	case "run-file":
		return runFile(ctx, args[1:], stdout, stderr)
	case "token":
		return mintToken(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", args[0], usage)
		return 1
	}
}

// execFlags are shared by run and run-file.
type execFlags struct {
	fs         *flag.FlagSet
	configPath *string
	url        *string
	token      *string
	kernel     *string
	timeout    *string
	params     *string
	verbose    *bool
}

func newExecFlags(name string, withParams bool, stderr io.Writer) *execFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }

	f := &execFlags{
		fs:         fs,
		configPath: fs.String("config", os.Getenv("PYRUN_CONFIG"), "YAML config file"),
		url:        fs.String("url", "", "Jupyter server URL"),
		token:      fs.String("token", "", "Jupyter server token"),
		kernel:     fs.String("kernel", "", "kernel name"),
		timeout:    fs.String("timeout", "", "maximum execution time"),
		verbose:    fs.Bool("verbose", false, "log protocol activity"),
	}
	if withParams {
		f.params = fs.String("params", "", "parameters to inject")
	}
	return f
}

// parse accepts flags before or after the single positional argument.
func (f *execFlags) parse(args []string) (string, error) {
	var positional []string
	for {
		if err := f.fs.Parse(args); err != nil {
			return "", err
		}
		rest := f.fs.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
	if len(positional) != 1 {
		return "", fmt.Errorf("%s expects exactly one argument, got %d", f.fs.Name(), len(positional))
	}
	return positional[0], nil
}

// resolve layers the flags over the loaded configuration.
func (f *execFlags) resolve() (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	if *f.url != "" {
		cfg.Jupyter.URL = *f.url
	}
	if *f.token != "" {
		cfg.Jupyter.Token = *f.token
	}
	if *f.kernel != "" {
		cfg.Jupyter.Kernel = *f.kernel
	}
	if *f.timeout != "" {
		d, err := config.ParseTimeout(*f.timeout)
		if err != nil {
			return nil, apperror.ValidationFailed("timeout", err.Error())
		}
		if d <= 0 {
			return nil, apperror.ValidationFailed("timeout", "must be positive")
		}
		cfg.Jupyter.Timeout = d
	}
	if err := cfg.RequireURL(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *execFlags) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelError
	if *f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func runCode(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f := newExecFlags("run", false, stderr)
	code, err := f.parse(args)
	if err != nil {
		return fail(stderr, err)
	}

	cfg, err := f.resolve()
	if err != nil {
		return fail(stderr, err)
	}

	return execute(ctx, cfg, f.logger(stderr), stdout, stderr, func(s *jupyter.Session) (*executor.ExecutionResult, error) {
		return s.Run(ctx, code, cfg.Jupyter.Timeout)
	})
}

func runFile(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f := newExecFlags("run-file", true, stderr)
	path, err := f.parse(args)
	if err != nil {
		return fail(stderr, err)
	}

	// Checked before connecting so a typo costs no kernel.
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(stderr, "Error: File not found: %s\n", path)
		return 1
	}
	if ext := filepath.Ext(path); ext != ".py" {
		fmt.Fprintf(stderr, "Error: Expected .py file, got: %s\n", ext)
		return 1
	}

	p, err := params.Parse(*f.params)
	if err != nil {
		fmt.Fprintf(stderr, "Error: Invalid params format: %v\n", err)
		return 1
	}

	cfg, err := f.resolve()
	if err != nil {
		return fail(stderr, err)
	}

	return execute(ctx, cfg, f.logger(stderr), stdout, stderr, func(s *jupyter.Session) (*executor.ExecutionResult, error) {
		return s.RunFile(ctx, path, p, cfg.Jupyter.Timeout)
	})
}

// execute runs fn on a scoped session and reports the result.
func execute(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer,
	fn func(*jupyter.Session) (*executor.ExecutionResult, error)) int {

	client, err := kernel.NewClient(cfg.Kernel(), logger)
	if err != nil {
		return fail(stderr, err)
	}

	var res *executor.ExecutionResult
	err = jupyter.WithSession(ctx, client, cfg.Jupyter.Kernel, logger, func(s *jupyter.Session) error {
		var runErr error
		res, runErr = fn(s)
		return runErr
	})

	if res != nil {
		report(res, cfg.Jupyter.Timeout, stdout, stderr)
	}
	if err != nil {
		return fail(stderr, err)
	}
	if res == nil || !res.Success() {
		return 1
	}
	return 0
}

// report prints captured output and, for an unsuccessful run, why it failed.
func report(res *executor.ExecutionResult, timeout time.Duration, stdout, stderr io.Writer) {
	if res.Stdout != "" {
		fmt.Fprint(stdout, res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprint(stderr, res.Stderr)
	}
	if res.Success() {
		return
	}

	switch res.Abort {
	case executor.AbortNone:
		fmt.Fprintf(stderr, "\nError: %s\n", res.ErrorSummary())
		color := isTerminal(stderr)
		for _, line := range res.ErrorTraceback {
			if !color {
				line = stripANSI(line)
			}
			fmt.Fprintln(stderr, line)
		}
	case executor.AbortTimeout:
		fmt.Fprintf(stderr, "\nError: execution timed out after %s; the kernel was not interrupted\n", timeout)
	default:
		fmt.Fprintf(stderr, "\nError: execution aborted (%s)\n", res.Abort)
	}
}

func mintToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "signing secret ($JWT_SECRET)")
	subject := fs.String("subject", "", "caller name recorded on runs")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fail(stderr, err)
	}

	if *subject == "" {
		return fail(stderr, apperror.ValidationFailed("subject", "is required"))
	}
	if *ttl <= 0 {
		return fail(stderr, apperror.ValidationFailed("ttl", "must be positive"))
	}

	tokens, err := auth.NewTokenService(*secret)
	if err != nil {
		return fail(stderr, err)
	}
	token, err := tokens.GenerateWithDuration(*subject, *ttl)
	if err != nil {
		return fail(stderr, err)
	}

	fmt.Fprintln(stdout, token)
	return 0
}

func fail(stderr io.Writer, err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "" && errors.Is(err, apperror.ErrValidation) {
		fmt.Fprintf(stderr, "Error: %s: %s\n", appErr.Field, appErr.Error())
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// stripANSI removes the colour codes IPython puts in tracebacks.
func stripANSI(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	return ansiEscape.ReplaceAllString(s, "")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
