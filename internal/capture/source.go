package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/perchlabs/voicerelay/internal/audio"
)

// execSource records by running an external capture command (arecord,
// sox, ffmpeg) that writes raw PCM or a WAV stream to stdout until it
// is interrupted.
type execSource struct {
	cmd        []string
	sampleRate int
	channels   int

	mu      sync.Mutex
	proc    *exec.Cmd
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	done    chan struct{}
	waitErr error
}

func NewExecSource(command string, sampleRate, channels int) (Source, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command empty")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &execSource{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSource) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil {
		return errors.New("capture source already recording")
	}

	e.stdout.Reset()
	e.stderr.Reset()
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdout = &e.stdout
	cmd.Stderr = &e.stderr
	if err := cmd.Start(); err != nil {
		if permissionDenied(err.Error()) {
			return ErrPermissionDenied
		}
		return fmt.Errorf("start capture command: %w", err)
	}

	e.proc = cmd
	e.done = make(chan struct{})
	go func() {
		e.waitErr = cmd.Wait()
		close(e.done)
	}()
	return nil
}

func (e *execSource) Stop() ([]byte, error) {
	e.mu.Lock()
	proc := e.proc
	done := e.done
	e.mu.Unlock()
	if proc == nil {
		return nil, ErrNoCapture
	}

	// Interrupt ends the recording cleanly for arecord-style tools.
	_ = proc.Process.Signal(os.Interrupt)
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	e.proc = nil

	data := e.stdout.Bytes()
	if len(data) == 0 {
		if permissionDenied(e.stderr.String()) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("capture command produced no audio: %s", e.stderr.String())
	}

	if audio.IsWAV(data) {
		pcm, _, _, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("decode captured wav: %w", err)
		}
		return pcm, nil
	}
	return append([]byte(nil), data...), nil
}

func (e *execSource) SampleRate() int { return e.sampleRate }
func (e *execSource) Channels() int   { return e.channels }

func permissionDenied(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "device or resource busy") ||
		strings.Contains(lower, "access denied")
}
