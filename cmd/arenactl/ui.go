package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arenabot/internal/ledger"
	"arenabot/internal/session"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type reconciliationPayload struct {
	Items      []ledger.FailureRecord `json:"items"`
	OpenCount  int                    `json:"open_count"`
	OpenAmount int64                  `json:"open_amount"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func phaseColor(p session.Phase) *color.Color {
	switch p {
	case session.PhaseActive:
		return success
	case session.PhaseConfirmation, session.PhaseSettlement:
		return warn
	case session.PhaseCancelled:
		return danger
	default:
		return accent
	}
}

func renderView(v session.View) {
	accent.Printf("\n== %s in %s ==\n", strings.ToUpper(v.Game), v.ArenaID)
	fmt.Printf("Session:   %s (v%d)\n", v.SessionID, v.Version)
	fmt.Printf("Phase:     %s\n", phaseColor(v.Phase).Sprint(v.Phase))
	fmt.Printf("Pot:       %s (entry %s)\n", comma(v.Pot), comma(v.EntryFee))
	fmt.Printf("Players:   %d/%d, needs %d\n", len(v.Participants), v.Max, v.Min)
	if !v.Deadline.IsZero() {
		fmt.Printf("Deadline:  %s (%s)\n", v.Deadline.Local().Format("15:04:05"), until(v.Deadline))
	}

	fmt.Println()
	if len(v.Participants) == 0 {
		printInfo("No players yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-28s %-20s %-10s\n", "PLAYER", "NAME", "STATE")
	for _, p := range v.Participants {
		fmt.Printf("%-28s %-20s %-10s\n", truncate(p.PlayerID, 28), truncate(p.DisplayName, 20), participantState(p))
	}
	fmt.Println()
}

func participantState(p session.ParticipantView) string {
	switch {
	case p.Eliminated:
		return danger.Sprint("out")
	case p.Confirmed:
		return success.Sprint("in")
	default:
		return neutral.Sprint("waiting")
	}
}

func renderSessions(views []session.View) {
	accent.Println("\nLive sessions")
	if len(views) == 0 {
		printInfo("No live sessions.")
		return
	}
	fmt.Printf("%-32s %-8s %-13s %8s %8s %8s\n", "ARENA", "GAME", "PHASE", "PLAYERS", "POT", "VERSION")
	for _, v := range views {
		fmt.Printf("%-32s %-8s %-13s %8d %8s %8d\n",
			truncate(v.ArenaID, 32),
			v.Game,
			phaseColor(v.Phase).Sprintf("%-13s", v.Phase),
			len(v.Participants),
			comma(v.Pot),
			v.Version,
		)
	}
	fmt.Println()
}

func renderResult(kind session.ActionKind, res session.Result) {
	if res.Duplicate {
		printInfo(fmt.Sprintf("%s already applied (v%d).", kind, res.Version))
		return
	}
	printSuccess(fmt.Sprintf("%s accepted, session %s at v%d.", kind, res.Phase, res.Version))
	for _, ev := range res.Events {
		fmt.Printf("  %s\n", ev.Text)
	}
}

func renderEvent(ev session.Event) string {
	at := ev.At.Local().Format("15:04:05")
	return fmt.Sprintf("%s %-18s %s", neutral.Sprint(at), accent.Sprint(ev.Kind), ev.Text)
}

func renderReconciliation(raw map[string]any) error {
	payload, err := decodeInto[reconciliationPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\nReconciliation")
	fmt.Printf("Open items: %d, owed %s\n\n", payload.OpenCount, comma(payload.OpenAmount))
	if len(payload.Items) == 0 {
		printSuccess("Nothing to reconcile.")
		return nil
	}
	fmt.Printf("%-6s %-24s %-28s %10s %-8s %-20s\n", "ID", "ARENA", "PLAYER", "AMOUNT", "REASON", "ERROR")
	for _, it := range payload.Items {
		fmt.Printf("%-6d %-24s %-28s %10s %-8s %-20s\n",
			it.ID,
			truncate(it.ArenaID, 24),
			truncate(it.PlayerID, 28),
			danger.Sprint(comma(it.Amount)),
			it.Reason,
			truncate(it.Error, 20),
		)
	}
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func until(t time.Time) string {
	d := time.Until(t).Round(time.Second)
	if d <= 0 {
		return "due"
	}
	return "in " + d.String()
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
