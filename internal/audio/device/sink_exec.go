package device

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
)

// execSink pipes raw PCM to an external player process (aplay, pacat, sox).
// The player's stdin back-pressure paces playback in real time. The command
// may contain {rate} and {channels} placeholders.
type execSink struct {
	command string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewExecSink creates a sink that spawns the given player command on Open.
func NewExecSink(command string) (Sink, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("player command empty")
	}
	return &execSink{command: command}, nil
}

func (e *execSink) Open(format pcm.Format) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return nil
	}

	expanded := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{channels}", strconv.Itoa(format.Channels),
	).Replace(e.command)

	parser := shellwords.NewParser()
	args, err := parser.Parse(expanded)
	if err != nil {
		return fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("player command empty")
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	e.cmd = cmd
	e.stdin = stdin
	return nil
}

func (e *execSink) Write(data []byte) error {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("player not running")
	}
	_, err := stdin.Write(data)
	return err
}

func (e *execSink) Close() error {
	e.mu.Lock()
	cmd := e.cmd
	stdin := e.stdin
	e.cmd = nil
	e.stdin = nil
	e.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil {
		return cmd.Wait()
	}
	return nil
}
