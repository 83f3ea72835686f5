// Package decoder runs the external CAFF parser against a staged upload.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"caff_back/failure"
	"caff_back/logging"
)

const (
	maxCapture     = 64 << 10
	detailTail     = 512
	killWaitDelay  = 2 * time.Second
	defaultWorkers = 4
)

// Executor abstracts command execution for testability. A process that ran
// and exited reports its exit code with a nil error; err is reserved for
// processes that could not be run at all.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) (stdout []byte, exitCode int, err error)
}

// Result is the outcome of a successful invocation.
type Result struct {
	ExitStatus int
	Stdout     []byte
}

// Option configures the decoder.
type Option func(*Decoder)

// WithExecutor injects a custom executor.
func WithExecutor(exec Executor) Option {
	return func(d *Decoder) {
		if exec != nil {
			d.exec = exec
		}
	}
}

// WithLogger sets the logger used for invocation traces.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Decoder) {
		d.logger = logging.Component(logger, "decoder")
	}
}

// Decoder wraps the parser executable.
type Decoder struct {
	binary  string
	timeout time.Duration
	slots   *semaphore.Weighted
	exec    Executor
	logger  logrus.FieldLogger
}

// New constructs a decoder. A non-positive timeout disables the deadline and
// a non-positive maxConcurrent falls back to a small default.
func New(binary string, timeout time.Duration, maxConcurrent int64, opts ...Option) (*Decoder, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("decoder: parser binary required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultWorkers
	}
	d := &Decoder{
		binary:  binary,
		timeout: timeout,
		slots:   semaphore.NewWeighted(maxConcurrent),
		exec:    commandExecutor{},
		logger:  logging.Component(nil, "decoder"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Invoke runs `<binary> <sourcePath> <outputDir>`. A non-zero exit is a
// ParseFailure and an expired deadline is a DecodeTimeout. A process that
// could not be started is an IOFailure. A caller cancelling ctx yields
// Cancelled, never a content verdict. Nothing is retried.
func (d *Decoder) Invoke(ctx context.Context, sourcePath, outputDir string) (Result, error) {
	if err := d.slots.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, failure.New(failure.DecodeTimeout, fmt.Errorf("decoder: waiting for a slot: %w", err))
		}
		return Result{}, failure.New(failure.Cancelled, fmt.Errorf("decoder: waiting for a slot: %w", err))
	}
	defer d.slots.Release(1)

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	stdout, code, err := d.exec.Run(runCtx, d.binary, []string{sourcePath, outputDir})
	elapsed := time.Since(started)
	log := d.logger.WithFields(logrus.Fields{
		"source":    sourcePath,
		"exit_code": code,
		"elapsed":   elapsed.Round(time.Millisecond).String(),
	})

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			log.Warn("parser timed out")
			return Result{ExitStatus: code, Stdout: stdout}, failure.New(failure.DecodeTimeout, fmt.Errorf("decoder: parser exceeded %s", d.timeout))
		}
		log.Warn("parser interrupted by caller")
		return Result{ExitStatus: code, Stdout: stdout}, failure.New(failure.Cancelled, fmt.Errorf("decoder: parser interrupted: %w", ctxErr))
	}
	if err != nil {
		log.WithError(err).Error("parser could not be started")
		return Result{ExitStatus: code, Stdout: stdout}, failure.New(failure.IOFailure, fmt.Errorf("decoder: run parser: %w", err))
	}
	if code != 0 {
		log.Info("parser rejected upload")
		return Result{ExitStatus: code, Stdout: stdout}, failure.New(failure.ParseFailure, fmt.Errorf("decoder: parser exited with status %d%s", code, detail(stdout)))
	}

	log.Debug("parser finished")
	return Result{ExitStatus: code, Stdout: stdout}, nil
}

func detail(out []byte) string {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ""
	}
	if len(text) > detailTail {
		text = text[len(text)-detailTail:]
	}
	return ": " + text
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	out := &cappedBuffer{limit: maxCapture}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = killWaitDelay

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), exitErr.ExitCode(), nil
	}
	return out.Bytes(), -1, err
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
