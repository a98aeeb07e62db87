package downloaders

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// runProcess starts binary in its own process group and feeds every stdout
// line to onLine. When ctx is done the whole group is signalled: with the
// revocation signal if the task was revoked, SIGTERM otherwise. If the
// process then fails the context cause is returned.
func runProcess(ctx context.Context, backend, binary string, args []string, onLine func([]byte)) error {
	cmd := exec.Command(binary, args...)
	// the extractors spawn children (ffmpeg, python workers): signal the
	// whole group, not only the parent
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &DownloadError{Backend: backend, Message: err.Error()}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &DownloadError{Backend: backend, Message: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return &DownloadError{Backend: backend, Message: err.Error()}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			signalGroup(cmd.Process.Pid, signalFor(ctx))
		case <-done:
		}
	}()

	var (
		wg      sync.WaitGroup
		lastErr string
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		lastErr = printErrors(stderr, backend, binary)
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Bytes())
	}

	wg.Wait()
	waitErr := cmd.Wait()

	// a clean exit wins over a limit or revocation that fired too late
	if waitErr == nil {
		return nil
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	msg := lastErr
	if msg == "" {
		msg = waitErr.Error()
	}
	return &DownloadError{Backend: backend, Message: msg}
}

func signalFor(ctx context.Context) syscall.Signal {
	var revoked *RevokedError
	if errors.As(context.Cause(ctx), &revoked) && revoked.Signal != 0 {
		return revoked.Signal
	}
	return syscall.SIGTERM
}

func signalGroup(pid int, sig syscall.Signal) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		slog.Warn("failed to get process group", slog.Int("pid", pid), slog.Any("err", err))
		return
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		slog.Warn("failed to signal process group",
			slog.Int("pgid", pgid),
			slog.String("signal", sig.String()),
			slog.Any("err", err),
		)
	}
}

// printErrors logs every stderr line and returns the last one.
func printErrors(r io.Reader, backend, binary string) string {
	var last string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last = line
		slog.Error("backend process error",
			slog.String("backend", backend),
			slog.String("binary", binary),
			slog.String("err", line),
		)
	}

	return last
}
