package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Command is an API call queued while the gateway was unreachable.
type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	QueuedAt       time.Time       `json:"queued_at"`
}

type Outcome int

const (
	Applied Outcome = iota
	Stale
	Rejected
	Retry
)

type Report struct {
	Applied  int `json:"applied"`
	Stale    int `json:"stale"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".arenactl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Replay sends queued commands in order. The first Retry stops the replay
// so later actions never overtake an earlier one; everything from there on
// stays queued.
func Replay(ctx context.Context, send func(context.Context, Command) Outcome) (Report, error) {
	commands, err := Load()
	if err != nil {
		return Report{}, err
	}
	var rep Report
	i := 0
	for ; i < len(commands); i++ {
		if ctx.Err() != nil {
			break
		}
		switch send(ctx, commands[i]) {
		case Applied:
			rep.Applied++
		case Stale:
			rep.Stale++
		case Rejected:
			rep.Rejected++
		case Retry:
			rep.Pending = len(commands) - i
			return rep, Save(commands[i:])
		}
	}
	rep.Pending = len(commands) - i
	return rep, Save(commands[i:])
}
