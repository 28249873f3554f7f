package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"arenabot/internal/auth"
	cl "arenabot/internal/cli"
	"arenabot/internal/config"
	"arenabot/internal/games"
	"arenabot/internal/session"
	"arenabot/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "arenactl",
		Short:        "Arena bot operator and player CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			apiOverridden = cmd.Flags().Changed("api") || os.Getenv("ARENACTL_API_BASE_URL") != ""
		},
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "gateway base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newHashTokenCmd(),
		newGamesCmd(&apiBase),
		newListCmd(&apiBase),
		newCreateCmd(&apiBase),
		newJoinCmd(&apiBase),
		newConfirmCmd(&apiBase),
		newActCmd(&apiBase),
		newStatusCmd(&apiBase),
		newWatchCmd(&apiBase),
		newAbortCmd(&apiBase),
		newBalanceCmd(&apiBase),
		newGrantCmd(&apiBase),
		newReconcileCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// apiOverridden is set when --api or ARENACTL_API_BASE_URL names the
// gateway; otherwise the URL stored at login wins.
var apiOverridden bool

func newClient(apiBase *string, p cl.Profile) *cl.Client {
	base := strings.TrimSpace(*apiBase)
	if p.BaseURL != "" && !apiOverridden {
		base = p.BaseURL
	}
	return cl.NewClient(base, p.Token)
}

func loadProfile() (cl.Profile, error) {
	p, err := cl.LoadProfile()
	if err != nil {
		return cl.Profile{}, fmt.Errorf("login required: %w", err)
	}
	return p, nil
}

func arenaFromArgs(args []string, p cl.Profile) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if p.ArenaID != "" {
		return p.ArenaID, nil
	}
	return "", fmt.Errorf("arena id required (pass it or set one with `arenactl login --arena`)")
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token, player, name, arena string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a gateway token and default player",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if strings.TrimSpace(token) == "" {
				if token, err = promptRequired("Token"); err != nil {
					return err
				}
			}
			if strings.TrimSpace(player) == "" {
				if player, err = promptOptional("Player id (optional)"); err != nil {
					return err
				}
			}
			p := cl.Profile{
				BaseURL:     strings.TrimSpace(*apiBase),
				Token:       strings.TrimSpace(token),
				PlayerID:    strings.TrimSpace(player),
				DisplayName: strings.TrimSpace(name),
				ArenaID:     strings.TrimSpace(arena),
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := cl.NewClient(p.BaseURL, p.Token).Games(ctx); err != nil {
				return fmt.Errorf("token check failed: %w", err)
			}
			if err := cl.SaveProfile(p); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "gateway bearer token")
	cmd.Flags().StringVar(&player, "player", "", "default player id, e.g. discord:1234")
	cmd.Flags().StringVar(&name, "name", "", "display name used when joining")
	cmd.Flags().StringVar(&arena, "arena", "", "default arena id")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print a bcrypt hash for ARENA_API_TOKEN_HASH",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := ""
			if len(args) > 0 {
				token = args[0]
			} else {
				var err error
				if token, err = promptRequired("Token"); err != nil {
					return err
				}
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func newGamesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List installed games",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := newClient(apiBase, p).Games(ctx)
			if err != nil {
				return err
			}
			accent.Println("Games")
			for _, g := range list {
				fmt.Printf("  %s\n", g)
			}
			return nil
		},
	}
}

func newListCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List live sessions",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			views, err := newClient(apiBase, p).Sessions(ctx)
			if err != nil {
				return err
			}
			renderSessions(views)
			return nil
		},
	}
}

func newCreateCmd(apiBase *string) *cobra.Command {
	var (
		fee, commission                          int64
		minPlayers, maxPlayers                   int
		registration, confirmation, tick, budget string
	)
	cmd := &cobra.Command{
		Use:   "create [arena] <game>",
		Short: "Open a new session in an arena",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			game := args[len(args)-1]
			arena, err := arenaFromArgs(args[:len(args)-1], p)
			if err != nil {
				return err
			}
			body := map[string]any{"game": game}
			flags := cmd.Flags()
			if flags.Changed("fee") {
				body["entry_fee"] = fee
			}
			if flags.Changed("commission") {
				body["commission_bps"] = commission
			}
			if flags.Changed("min") {
				body["min_participants"] = minPlayers
			}
			if flags.Changed("max") {
				body["max_participants"] = maxPlayers
			}
			for key, v := range map[string]string{
				"registration_window": registration,
				"confirmation_window": confirmation,
				"tick_interval":       tick,
				"active_budget":       budget,
			} {
				if v != "" {
					body[key] = v
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			v, err := newClient(apiBase, p).Create(ctx, arena, body)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Opened %s in %s.", v.Game, v.ArenaID))
			renderView(v)
			return nil
		},
	}
	cmd.Flags().Int64Var(&fee, "fee", 0, "entry fee")
	cmd.Flags().Int64Var(&commission, "commission", 0, "house commission in basis points")
	cmd.Flags().IntVar(&minPlayers, "min", 0, "minimum confirmed players")
	cmd.Flags().IntVar(&maxPlayers, "max", 0, "maximum registrants")
	cmd.Flags().StringVar(&registration, "registration", "", "registration window, e.g. 2m")
	cmd.Flags().StringVar(&confirmation, "confirmation", "", "confirmation window, e.g. 1m")
	cmd.Flags().StringVar(&tick, "tick", "", "game tick interval, e.g. 15s")
	cmd.Flags().StringVar(&budget, "budget", "", "active time budget, e.g. 10m")
	return cmd
}

type actionFlags struct {
	player      string
	name        string
	baseVersion uint64
}

func (f *actionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.player, "player", "", "player id (defaults to the logged in player)")
	cmd.Flags().StringVar(&f.name, "name", "", "display name")
	cmd.Flags().Uint64Var(&f.baseVersion, "base-version", 0, "reject the action if the session moved past this version")
}

func (f *actionFlags) action(kind session.ActionKind, p cl.Profile) (session.Action, error) {
	player := strings.TrimSpace(f.player)
	if player == "" {
		player = p.PlayerID
	}
	if player == "" {
		return session.Action{}, fmt.Errorf("player id required (pass --player or login with --player)")
	}
	name := strings.TrimSpace(f.name)
	if name == "" {
		name = p.DisplayName
	}
	return session.Action{Kind: kind, PlayerID: player, DisplayName: name, BaseVersion: f.baseVersion}, nil
}

func newJoinCmd(apiBase *string) *cobra.Command {
	var flags actionFlags
	cmd := &cobra.Command{
		Use:   "join [arena]",
		Short: "Register for the arena's open session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, apiBase, args, &flags, session.ActionJoin, nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newConfirmCmd(apiBase *string) *cobra.Command {
	var flags actionFlags
	cmd := &cobra.Command{
		Use:     "confirm [arena]",
		Short:   "Pay the entry fee and confirm participation",
		Aliases: []string{"pay"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, apiBase, args, &flags, session.ActionConfirm, nil)
		},
	}
	flags.register(cmd)
	return cmd
}

func newActCmd(apiBase *string) *cobra.Command {
	var flags actionFlags
	var arena string
	cmd := &cobra.Command{
		Use:   "act <move> [target]",
		Short: "Send a game move (shield, attack <player>, advance)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mv := games.Move{Move: strings.ToLower(args[0])}
			if len(args) > 1 {
				mv.Target = args[1]
			}
			payload, err := json.Marshal(mv)
			if err != nil {
				return err
			}
			var arenaArgs []string
			if arena != "" {
				arenaArgs = []string{arena}
			}
			return runAction(cmd, apiBase, arenaArgs, &flags, session.ActionPlay, payload)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&arena, "arena", "", "arena id (defaults to the logged in arena)")
	return cmd
}

// runAction submits one action. When the gateway cannot be reached the
// action is queued with its idempotency key for `arenactl sync`.
func runAction(cmd *cobra.Command, apiBase *string, args []string, flags *actionFlags, kind session.ActionKind, payload json.RawMessage) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	arena, err := arenaFromArgs(args, p)
	if err != nil {
		return err
	}
	a, err := flags.action(kind, p)
	if err != nil {
		return err
	}
	a.Payload = payload
	if a.BaseVersion == 0 {
		a.BaseVersion = p.Versions[arena]
	}

	idem := uuid.NewString()
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	res, err := newClient(apiBase, p).Submit(ctx, arena, a, idem)
	if err != nil {
		if !cl.IsUnreachable(err) {
			return err
		}
		body, merr := json.Marshal(a)
		if merr != nil {
			return merr
		}
		if qerr := syncq.Push(syncq.Command{
			Method:         http.MethodPost,
			Path:           cl.ActionPath(arena),
			Body:           body,
			IdempotencyKey: idem,
		}); qerr != nil {
			return fmt.Errorf("%w (queueing failed: %v)", err, qerr)
		}
		printWarn(fmt.Sprintf("Gateway unreachable, %s queued. Run `arenactl sync` later.", kind))
		return nil
	}
	p.Remember(arena, res.Version)
	_ = cl.SaveProfile(p)
	renderResult(kind, res)
	return nil
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [arena]",
		Short: "Show the arena's live session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			arena, err := arenaFromArgs(args, p)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			v, err := newClient(apiBase, p).Snapshot(ctx, arena)
			if err != nil {
				return err
			}
			p.Remember(arena, v.Version)
			_ = cl.SaveProfile(p)
			renderView(v)
			return nil
		},
	}
}

func newWatchCmd(apiBase *string) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch [arena]",
		Short: "Follow a session live",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			arena, err := arenaFromArgs(args, p)
			if err != nil {
				return err
			}
			client := newClient(apiBase, p)
			if plain || !isTerminal() {
				return watchPlain(cmd.Context(), client, arena)
			}
			return watchTUI(cmd.Context(), client, arena)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print events line by line instead of the live view")
	return cmd
}

func newAbortCmd(apiBase *string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "abort [arena]",
		Short: "Stop the arena's session (operator)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			arena, err := arenaFromArgs(args, p)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			v, err := newClient(apiBase, p).Abort(ctx, arena, reason)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Session %s is now %s.", v.SessionID, v.Phase))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason announced to the arena")
	return cmd
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [player]",
		Short: "Show a player's balance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			player := p.PlayerID
			if len(args) > 0 {
				player = args[0]
			}
			if player == "" {
				return fmt.Errorf("player id required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			balance, err := newClient(apiBase, p).Balance(ctx, player)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", player, accent.Sprint(comma(balance)))
			return nil
		},
	}
}

func newGrantCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <player> <amount>",
		Short: "Deposit funds to a player (operator)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("invalid amount")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			balance, err := newClient(apiBase, p).Grant(ctx, args[0], amount, uuid.NewString())
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Granted %s to %s, balance now %s.", comma(amount), args[0], comma(balance)))
			return nil
		},
	}
}

func newReconcileCmd(apiBase *string) *cobra.Command {
	rec := &cobra.Command{
		Use:   "reconcile",
		Short: "Failed payouts that need an operator (operator)",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List open reconciliation items",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase, p).Reconciliation(ctx, limit)
			if err != nil {
				return err
			}
			return renderReconciliation(out)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum items to show")

	var note string
	resolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a reconciliation item as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id")
			}
			if strings.TrimSpace(note) == "" {
				if note, err = promptRequired("Note"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase, p).Resolve(ctx, id, note); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Item %d resolved.", id))
			return nil
		},
	}
	resolve.Flags().StringVar(&note, "note", "", "what was done to settle the item")

	rec.AddCommand(list, resolve)
	return rec
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay actions queued while the gateway was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase, p)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			rep, err := syncq.Replay(ctx, func(ctx context.Context, q syncq.Command) syncq.Outcome {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				return classify(q, err)
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: applied=%d stale=%d rejected=%d pending=%d",
				rep.Applied, rep.Stale, rep.Rejected, rep.Pending))
			return nil
		},
	}
}

func classify(q syncq.Command, err error) syncq.Outcome {
	switch {
	case err == nil:
		return syncq.Applied
	case cl.IsStale(err):
		printWarn(fmt.Sprintf("Dropped stale %s %s", q.Method, q.Path))
		return syncq.Stale
	case cl.IsUnreachable(err):
		printError(fmt.Sprintf("Gateway still unreachable: %v", err))
		return syncq.Retry
	}
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 500 {
		printError(fmt.Sprintf("Gateway error, keeping %s %s queued: %v", q.Method, q.Path, err))
		return syncq.Retry
	}
	printError(fmt.Sprintf("Rejected %s %s: %v", q.Method, q.Path, err))
	return syncq.Rejected
}
