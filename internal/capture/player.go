package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execPlayer renders reply audio by handing the resolved locator to an
// external player command (ffplay, aplay, mpv).
type execPlayer struct {
	cmd     []string
	baseURL string
}

func NewExecPlayer(command, baseURL string) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command empty")
	}
	return &execPlayer{cmd: args, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (p *execPlayer) Play(ctx context.Context, audioURL string) error {
	target := audioURL
	if !strings.Contains(audioURL, "://") {
		resolved, err := url.JoinPath(p.baseURL, audioURL)
		if err != nil {
			return fmt.Errorf("resolve audio locator: %w", err)
		}
		target = resolved
	}

	args := append(append([]string{}, p.cmd[1:]...), target)
	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("player command failed: %w: %s", err, stderr.String())
	}
	return nil
}
