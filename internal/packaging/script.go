package packaging

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cochaviz/uupiso/internal/logging"
)

const (
	WindowsScript = "uup_download_windows.cmd"
	LinuxScript   = "uup_download_linux.sh"
)

var (
	ErrScriptMissing = errors.New("conversion script not found")
	ErrISONotFound   = errors.New("no ISO produced")
)

// ScriptName returns the conversion script used on goos.
func ScriptName(goos string) string {
	if goos == "windows" {
		return WindowsScript
	}
	return LinuxScript
}

// ScriptRunner runs the package's conversion script and forwards its output
// through Filter.
type ScriptRunner struct {
	Logger *slog.Logger
	Filter *logging.ProgressFilter
	// GOOS selects the script; empty means runtime.GOOS.
	GOOS string
}

// Run executes the conversion script in dir and waits for it to finish.
func (r *ScriptRunner) Run(ctx context.Context, dir string) error {
	goos := r.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	script := ScriptName(goos)
	if _, err := os.Stat(filepath.Join(dir, script)); err != nil {
		return fmt.Errorf("%w: %s", ErrScriptMissing, script)
	}

	var cmd *exec.Cmd
	if goos == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", script)
	} else {
		cmd = exec.CommandContext(ctx, "bash", script)
	}
	cmd.Dir = dir

	// Wait must run alongside the reader so WaitDelay can close the pipe when
	// helper processes outlive a cancelled script.
	reader, writer := io.Pipe()
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.WaitDelay = 5 * time.Second

	filter := r.Filter
	if filter == nil {
		filter = logging.NewProgressFilter(r.logger())
	}

	r.logger().Info("running conversion script", "script", script, "dir", dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", script, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		writer.Close()
		waitErr <- err
	}()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanTerminalLines)
	for scanner.Scan() {
		filter.Line(scanner.Text())
	}
	scanErr := scanner.Err()
	// Drain so the copying goroutines in exec never block on a full pipe.
	_, _ = io.Copy(io.Discard, reader)

	if err := <-waitErr; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s failed: %w", script, err)
	}
	if scanErr != nil {
		return fmt.Errorf("read %s output: %w", script, scanErr)
	}
	return nil
}

// scanTerminalLines splits on \n and on the bare \r used by progress bars.
func scanTerminalLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// FindISO returns the single ISO image the conversion left in dir.
func FindISO(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var found []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".iso") {
			continue
		}
		found = append(found, filepath.Join(dir, entry.Name()))
	}

	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w in %s", ErrISONotFound, dir)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("expected one ISO in %s, found %d", dir, len(found))
	}
}

func (r *ScriptRunner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
