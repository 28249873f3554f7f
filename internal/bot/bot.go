package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"arenabot/internal/games"
	"arenabot/internal/notify"
	"arenabot/internal/session"
)

// Balances is the part of the ledger the chat commands read.
type Balances interface {
	Balance(ctx context.Context, playerID string) (int64, error)
}

// Commands turns "!" chat commands into engine calls. Replies are plain
// text; progress is announced through the engine's sinks.
type Commands struct {
	engine      *session.Engine
	balances    Balances
	defaults    session.Config
	defaultGame string
	admins      map[string]bool
	log         *slog.Logger
}

func New(engine *session.Engine, balances Balances, defaults session.Config, defaultGame string, admins []string, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Commands{
		engine:      engine,
		balances:    balances,
		defaults:    defaults,
		defaultGame: defaultGame,
		admins:      make(map[string]bool, len(admins)),
		log:         logger,
	}
	for _, id := range admins {
		c.admins[id] = true
	}
	return c
}

const help = "commands: !games, !arena [game] [fee], !join, !confirm, !status, !balance, " +
	"!shield, !attack <player>, !advance, !abort"

// Handle implements notify.MessageHandler.
func (c *Commands) Handle(ctx context.Context, m notify.Message) string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "!") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(text, "!"))
	if len(fields) == 0 {
		return ""
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	reply, err := c.dispatch(ctx, m, cmd, args)
	if err != nil {
		c.log.Debug("chat command rejected", "arena_id", m.ArenaID, "player_id", m.PlayerID, "cmd", cmd, "err", err)
		return userMessage(err)
	}
	return reply
}

func (c *Commands) dispatch(ctx context.Context, m notify.Message, cmd string, args []string) (string, error) {
	switch cmd {
	case "help":
		return help, nil
	case "games":
		return "games: " + strings.Join(c.engine.Games(), ", "), nil
	case "arena", "new":
		return c.create(ctx, m, args)
	case "join":
		_, err := c.engine.Submit(ctx, m.ArenaID, session.Action{Kind: session.ActionJoin, PlayerID: m.PlayerID, DisplayName: m.DisplayName})
		return "", err
	case "confirm", "pay":
		res, err := c.engine.Submit(ctx, m.ArenaID, session.Action{Kind: session.ActionConfirm, PlayerID: m.PlayerID})
		if err == nil && res.Duplicate {
			return m.DisplayName + ", you are already in", nil
		}
		return "", err
	case "status":
		v, err := c.engine.Snapshot(m.ArenaID)
		if err != nil {
			return "", err
		}
		return Status(v), nil
	case "balance":
		b, err := c.balances.Balance(ctx, m.PlayerID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s, your balance is %d", m.DisplayName, b), nil
	case "abort":
		if !c.admins[m.PlayerID] {
			return "only arena admins can abort a session", nil
		}
		_, err := c.engine.Abort(ctx, m.ArenaID, "aborted by "+m.DisplayName)
		return "", err
	case "shield", "advance":
		return c.play(ctx, m, games.Move{Move: cmd})
	case "attack":
		if len(args) == 0 {
			return "usage: !attack <player>", nil
		}
		target, err := c.findPlayer(m.ArenaID, strings.Join(args, " "))
		if err != nil {
			return "", err
		}
		return c.play(ctx, m, games.Move{Move: cmd, Target: target})
	default:
		return "", nil
	}
}

func (c *Commands) create(ctx context.Context, m notify.Message, args []string) (string, error) {
	game := c.defaultGame
	cfg := c.defaults
	for _, a := range args {
		if fee, err := strconv.ParseInt(a, 10, 64); err == nil {
			cfg.EntryFee = fee
			continue
		}
		game = strings.ToLower(a)
	}
	_, err := c.engine.Create(ctx, m.ArenaID, game, cfg)
	return "", err
}

func (c *Commands) play(ctx context.Context, m notify.Message, mv games.Move) (string, error) {
	payload, err := json.Marshal(mv)
	if err != nil {
		return "", err
	}
	_, err = c.engine.Submit(ctx, m.ArenaID, session.Action{
		Kind:     session.ActionPlay,
		PlayerID: m.PlayerID,
		Payload:  payload,
		Key:      m.MessageID,
	})
	return "", err
}

// findPlayer resolves a display name or player id within the live session.
func (c *Commands) findPlayer(arenaID, query string) (string, error) {
	v, err := c.engine.Snapshot(arenaID)
	if err != nil {
		return "", err
	}
	query = strings.TrimPrefix(strings.TrimSpace(query), "@")
	for _, p := range v.Participants {
		if p.PlayerID == query || strings.EqualFold(p.DisplayName, query) {
			return p.PlayerID, nil
		}
	}
	return "", fmt.Errorf("%w: no player named %q", games.ErrInvalidMove, query)
}

// Status renders a one-message summary of a session.
func Status(v session.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s, pot %d, entry %d, players %d/%d", v.Game, v.Phase, v.Pot, v.EntryFee, len(v.Participants), v.Max)
	if !v.Deadline.IsZero() {
		fmt.Fprintf(&b, ", next deadline %s", v.Deadline.UTC().Format("15:04:05"))
	}
	for _, p := range v.Participants {
		mark := "waiting"
		switch {
		case p.Eliminated:
			mark = "out"
		case p.Confirmed:
			mark = "in"
		}
		fmt.Fprintf(&b, "\n- %s (%s)", p.DisplayName, mark)
	}
	return b.String()
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return "no game running here, start one with !arena"
	case errors.Is(err, session.ErrAlreadyActive):
		return "a game is already running here"
	case errors.Is(err, session.ErrAlreadyJoined):
		return "you already joined"
	case errors.Is(err, session.ErrFull):
		return "this game is full"
	case errors.Is(err, session.ErrWrongPhase):
		return "that is not possible right now"
	case errors.Is(err, session.ErrInsufficientFunds):
		return "not enough balance for the entry fee"
	case errors.Is(err, session.ErrNotParticipant):
		return "you are not playing in this game"
	case errors.Is(err, session.ErrNotEligible):
		return "you are out of this round"
	case errors.Is(err, session.ErrStaleAction):
		return ""
	case errors.Is(err, session.ErrUnknownGame), errors.Is(err, session.ErrInvalidConfig), errors.Is(err, games.ErrInvalidMove):
		return err.Error()
	default:
		return "something went wrong, try again later"
	}
}
