package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os/exec"
	"time"
)

// Launcher switches to the peer by running an opener command, such as
// xdg-open, with the target URL as its last argument. The opener exiting zero
// means the peer accepted the handoff.
type Launcher struct {
	command string
	args    []string
	timeout time.Duration
	logger  *log.Logger
}

func NewLauncher(command string, args []string, timeout time.Duration, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Launcher{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
		logger:  logger,
	}
}

func (l *Launcher) Switch(ctx context.Context, target *url.URL) error {
	path, err := exec.LookPath(l.command)
	if err != nil {
		return fmt.Errorf("%w: opener %q: %v", ErrPeerUnavailable, l.command, err)
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), l.args...), target.String())
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = l.logger.Writer()
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: opener timeout after %s", ErrPeerUnavailable, l.timeout)
		}
		return fmt.Errorf("%w: opener %q: %v", ErrPeerUnavailable, l.command, err)
	}

	l.logger.Printf("[launcher] handed %s://%s to peer (%v)", target.Scheme, target.Host, time.Since(start))
	return nil
}
