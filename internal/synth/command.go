package synth

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// CommandBackend runs a local espeak-compatible binary that writes WAV to
// stdout. It is the on-device fallback when the network voice is down.
type CommandBackend struct {
	binary string
}

func NewCommandBackend(binary string) *CommandBackend {
	if strings.TrimSpace(binary) == "" {
		binary = "espeak-ng"
	}
	return &CommandBackend{binary: binary}
}

// Available reports whether the binary is on PATH.
func (b *CommandBackend) Available() bool {
	_, err := exec.LookPath(b.binary)
	return err == nil
}

func (b *CommandBackend) Name() string { return "espeak" }

func (b *CommandBackend) Synthesize(ctx context.Context, req Request) (Audio, error) {
	path, err := exec.LookPath(b.binary)
	if err != nil {
		return Audio{}, fmt.Errorf("%s not found: %w", b.binary, err)
	}
	cmd := exec.CommandContext(ctx, path, b.args(req)...)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Audio{}, fmt.Errorf("%s failed: %w, stderr: %s", b.binary, err, strings.TrimSpace(stderr.String()))
	}
	return Audio{Data: stdout.Bytes(), MIMEType: "audio/wav"}, nil
}

func (b *CommandBackend) args(req Request) []string {
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}
	args := []string{"--stdout", "-s", strconv.Itoa(int(math.Round(175 * speed)))}
	voice := strings.TrimSpace(req.VoiceID)
	if voice == "" {
		voice = strings.TrimSpace(req.Language)
	}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if req.Volume > 0 {
		args = append(args, "-a", strconv.Itoa(int(math.Round(min(req.Volume, 1)*200))))
	}
	return args
}
