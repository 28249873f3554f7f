package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"arenabot/internal/session"
)

var errDuplicateRef = errors.New("reference already applied")

type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

// inTx runs fn in a SERIALIZABLE transaction, retrying serialization
// failures with exponential backoff.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			return ErrTxConflict
		}
		p.log.Debug("serialization conflict, retrying", "attempt", attempt+1, "delay", retryDelay)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (p *Postgres) Debit(ctx context.Context, playerID string, amount int64, ref string) error {
	playerID, ref, err := validate(playerID, amount, ref)
	if err != nil {
		return err
	}
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, ref, "debit"); err != nil {
			return err
		}
		var balance int64
		err := tx.QueryRow(ctx, `
			SELECT balance
			FROM arena.accounts
			WHERE player_id = $1
			FOR UPDATE
		`, playerID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return err
		}
		if balance < amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `
			UPDATE arena.accounts
			SET balance = balance - $1, updated_at = now()
			WHERE player_id = $2
		`, amount, playerID); err != nil {
			return err
		}
		return appendLedgerEntries(ctx, tx, playerID, "debit", ref, -amount)
	})
	if errors.Is(err, errDuplicateRef) {
		p.log.Info("debit already applied", "player_id", playerID, "ref", ref)
		return nil
	}
	return err
}

func (p *Postgres) Credit(ctx context.Context, playerID string, amount int64, ref string) error {
	_, err := p.credit(ctx, playerID, amount, ref, "credit")
	return err
}

// Grant is an operator deposit.
func (p *Postgres) Grant(ctx context.Context, playerID string, amount int64, ref string) (int64, error) {
	return p.credit(ctx, playerID, amount, ref, "grant")
}

func (p *Postgres) credit(ctx context.Context, playerID string, amount int64, ref, action string) (int64, error) {
	playerID, ref, err := validate(playerID, amount, ref)
	if err != nil {
		return 0, err
	}
	var balance int64
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, ref, action); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO arena.accounts (player_id, balance)
			VALUES ($1, $2)
			ON CONFLICT (player_id) DO UPDATE
			SET balance = arena.accounts.balance + EXCLUDED.balance, updated_at = now()
			RETURNING balance
		`, playerID, amount).Scan(&balance); err != nil {
			return err
		}
		return appendLedgerEntries(ctx, tx, playerID, action, ref, amount)
	})
	if errors.Is(err, errDuplicateRef) {
		p.log.Info("credit already applied", "player_id", playerID, "ref", ref, "action", action)
		balance, err = p.Balance(ctx, playerID)
	}
	return balance, err
}

func (p *Postgres) Balance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := p.db.QueryRow(ctx, `
		SELECT balance
		FROM arena.accounts
		WHERE player_id = $1
	`, strings.TrimSpace(playerID)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (p *Postgres) RecordFailure(ctx context.Context, f session.Failure) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO arena.reconciliation (arena_id, session_id, player_id, amount, pot, reason, ref, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, f.ArenaID, f.SessionID, f.PlayerID, f.Amount, f.Pot, f.Reason, f.Ref, f.Error)
	if err != nil {
		return fmt.Errorf("record reconciliation item: %w", err)
	}
	return nil
}

func (p *Postgres) OpenFailures(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, arena_id, session_id, player_id, amount, pot, reason, ref, error, created_at
		FROM arena.reconciliation
		WHERE resolved_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]FailureRecord, 0)
	for rows.Next() {
		var r FailureRecord
		if err := rows.Scan(&r.ID, &r.ArenaID, &r.SessionID, &r.PlayerID, &r.Amount, &r.Pot, &r.Reason, &r.Ref, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) ResolveFailure(ctx context.Context, id int64, note string) error {
	cmd, err := p.db.Exec(ctx, `
		UPDATE arena.reconciliation
		SET resolved_at = now(), resolution = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, strings.TrimSpace(note))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) PruneIdempotency(ctx context.Context, olderThan time.Duration) (int64, error) {
	cmd, err := p.db.Exec(ctx, `
		DELETE FROM arena.idempotency_keys
		WHERE created_at < now() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// appendLedgerEntries writes both legs of one movement under a shared
// group id: the player's wallet and the arena clearing account.
func appendLedgerEntries(ctx context.Context, tx pgx.Tx, playerID, action, ref string, delta int64) error {
	txID := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO arena.ledger_entries (tx_group_id, player_id, account, delta, action, ref)
		VALUES
		($1, $2, 'wallet', $3, $5, $6),
		($1, $2, 'arena', $4, $5, $6)
	`, txID, playerID, delta, -delta, action, ref)
	return err
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, ref, action string) error {
	cmd, err := tx.Exec(ctx, `
		INSERT INTO arena.idempotency_keys (ref, action, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (ref) DO NOTHING
	`, ref, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errDuplicateRef
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
