package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/betpay/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Tables: accounts, balances (one row per account+currency, carrying the
// version counter), positions, invoices, audit_entries.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, created_at) VALUES ($1, $2)`,
		acct.ID, acct.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	for currency, b := range acct.Balances {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO balances (account_id, currency, amount, version)
			 VALUES ($1, $2, $3::NUMERIC, $4)`,
			acct.ID, currency, b.Amount.String(), b.Version,
		)
		if err != nil {
			return fmt.Errorf("create balance %s/%s: %w", acct.ID, currency, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var acct model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM accounts WHERE id = $1`, id).
		Scan(&acct.ID, &acct.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT currency, amount::TEXT, version FROM balances WHERE account_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	acct.Balances = make(map[string]model.Balance)
	for rows.Next() {
		var currency, amountS string
		var version int64
		if err := rows.Scan(&currency, &amountS, &version); err != nil {
			return nil, err
		}
		amount, _ := decimal.NewFromString(amountS)
		acct.Balances[currency] = model.Balance{Amount: amount, Version: version}
	}
	return &acct, rows.Err()
}

func (s *PostgresStore) CompareAndSwapBalance(ctx context.Context, accountID, currency string, amount decimal.Decimal, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE balances
		 SET amount = $3::NUMERIC, version = version + 1
		 WHERE account_id = $1 AND currency = $2 AND version = $4`,
		accountID, currency, amount.String(), expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means either a lost race or no such balance row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM balances WHERE account_id = $1 AND currency = $2)`,
			accountID, currency).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionMismatch
	}
	return nil
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, account_id, token, direction, stake, currency, entry_price, current_price, status, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		p.ID, p.AccountID, p.Token, p.Direction,
		p.Stake.String(), p.Currency,
		p.EntryPrice.String(), p.CurrentPrice.String(),
		p.Status, p.ExpiresAt, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, token, direction,
		        stake::TEXT, currency, entry_price::TEXT, current_price::TEXT,
		        status, expires_at, created_at
		 FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, token, direction,
		        stake::TEXT, currency, entry_price::TEXT, current_price::TEXT,
		        status, expires_at, created_at
		 FROM positions WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ClosePosition(ctx context.Context, id, status string, exitPrice decimal.Decimal) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET status = $2, current_price = $3::NUMERIC
		 WHERE id = $1 AND status = 'active'`,
		id, status, exitPrice.String(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO invoices (id, account_id, amount, currency, status, pay_url, credit_ref, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8)`,
		inv.ID, inv.AccountID, inv.Amount.String(), inv.Currency,
		inv.Status, inv.PayURL, inv.CreditRef, inv.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, amount::TEXT, currency, status, pay_url, credit_ref, created_at
		 FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", id, err)
	}
	return inv, nil
}

func (s *PostgresStore) ListUnpaidInvoices(ctx context.Context, accountID string) ([]model.Invoice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, amount::TEXT, currency, status, pay_url, credit_ref, created_at
		 FROM invoices WHERE account_id = $1 AND status = 'unpaid' ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (s *PostgresStore) MarkInvoicePaid(ctx context.Context, id, creditRef string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices
		 SET status = 'paid', credit_ref = $2
		 WHERE id = $1 AND status = 'unpaid'`,
		id, creditRef,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, op, account_id, currency, amount, old_balance, new_balance, status, ref, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10)`,
		e.ID, e.Op, e.AccountID, e.Currency,
		e.Amount.String(), e.OldBalance.String(), e.NewBalance.String(),
		e.Status, e.Ref, e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListAuditEntriesByAccount(ctx context.Context, accountID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, op, account_id, currency,
		        amount::TEXT, old_balance::TEXT, new_balance::TEXT,
		        status, ref, timestamp
		 FROM audit_entries WHERE account_id = $1 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var amountS, oldS, newS string
		if err := rows.Scan(&e.ID, &e.Op, &e.AccountID, &e.Currency,
			&amountS, &oldS, &newS,
			&e.Status, &e.Ref, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		e.OldBalance, _ = decimal.NewFromString(oldS)
		e.NewBalance, _ = decimal.NewFromString(newS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var stakeS, entryS, currentS string

	if err := row.Scan(&p.ID, &p.AccountID, &p.Token, &p.Direction,
		&stakeS, &p.Currency, &entryS, &currentS,
		&p.Status, &p.ExpiresAt, &p.CreatedAt); err != nil {
		return nil, err
	}

	p.Stake, _ = decimal.NewFromString(stakeS)
	p.EntryPrice, _ = decimal.NewFromString(entryS)
	p.CurrentPrice, _ = decimal.NewFromString(currentS)
	return &p, nil
}

func scanInvoice(row pgxRow) (*model.Invoice, error) {
	var inv model.Invoice
	var amountS string

	if err := row.Scan(&inv.ID, &inv.AccountID, &amountS, &inv.Currency,
		&inv.Status, &inv.PayURL, &inv.CreditRef, &inv.CreatedAt); err != nil {
		return nil, err
	}

	inv.Amount, _ = decimal.NewFromString(amountS)
	return &inv, nil
}
