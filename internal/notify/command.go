package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"posturewatch/internal/config"
)

// CommandNotifier plays the cue through an external audio player process.
type CommandNotifier struct {
	path   string
	args   []string
	file   string
	logger *slog.Logger

	mu      sync.Mutex
	current *exec.Cmd
	closed  bool

	// start is swapped in tests.
	start func(cmd *exec.Cmd) error
}

func NewCommandNotifier(cfg config.CommandConfig, logger *slog.Logger) *CommandNotifier {
	return &CommandNotifier{
		path:   cfg.Path,
		args:   append([]string(nil), cfg.Args...),
		file:   cfg.File,
		logger: logger,
		start:  func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

func (n *CommandNotifier) Play(_ context.Context, volume float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("command notifier closed")
	}
	n.stopLocked()

	cmd := exec.Command(n.path, ExpandArgs(n.args, n.file, volume)...)
	if err := n.start(cmd); err != nil {
		return fmt.Errorf("start %s: %w", n.path, err)
	}
	n.current = cmd
	go n.wait(cmd)
	return nil
}

func (n *CommandNotifier) wait(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	err := cmd.Wait()
	n.mu.Lock()
	if n.current == cmd {
		n.current = nil
	}
	n.mu.Unlock()
	if err != nil && n.logger != nil {
		n.logger.Debug("cue player exited", "path", n.path, "err", err)
	}
}

// stopLocked kills a cue that is still playing so the next one starts from
// the beginning.
func (n *CommandNotifier) stopLocked() {
	if n.current == nil {
		return
	}
	if n.current.Process != nil {
		_ = n.current.Process.Kill()
	}
	n.current = nil
}

func (n *CommandNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
	n.closed = true
	return nil
}

// ExpandArgs substitutes {file}, {volume} (0..1), {volume_pct} (0..100) and
// {volume_pa} (0..65536, PulseAudio scale) in args.
func ExpandArgs(args []string, file string, volume float64) []string {
	volume = math.Max(0, math.Min(1, volume))
	r := strings.NewReplacer(
		"{file}", file,
		"{volume}", strconv.FormatFloat(volume, 'f', 2, 64),
		"{volume_pct}", strconv.Itoa(int(math.Round(volume*100))),
		"{volume_pa}", strconv.Itoa(int(math.Round(volume*65536))),
	)
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, r.Replace(a))
	}
	return out
}
