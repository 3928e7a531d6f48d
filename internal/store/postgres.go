package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prophet/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision
// and travel as text so no float conversion ever happens.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Claims ---

const claimCols = `id, slug, text, author, status, status_description, parent_id, created_at`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var c model.Claim
	var status string
	if err := row.Scan(&c.ID, &c.Slug, &c.Text, &c.Author, &status,
		&c.StatusDescription, &c.ParentID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = model.Status(status)
	return &c, nil
}

func (s *PostgresStore) CreateClaim(ctx context.Context, c *model.Claim) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO claims (slug, text, author, status, status_description, parent_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.Slug, c.Text, c.Author, string(c.Status), c.StatusDescription, c.ParentID, c.CreatedAt,
	).Scan(&c.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("claim slug %q: %w", c.Slug, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) getClaimWhere(ctx context.Context, where string, arg any) (*model.Claim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx,
		`SELECT `+claimCols+` FROM claims WHERE `+where+` ORDER BY id LIMIT 1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim %v: %w", arg, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get claim %v: %w", arg, err)
	}
	return c, nil
}

func (s *PostgresStore) GetClaim(ctx context.Context, id int64) (*model.Claim, error) {
	return s.getClaimWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) GetClaimBySlug(ctx context.Context, slug string) (*model.Claim, error) {
	return s.getClaimWhere(ctx, "slug = $1", slug)
}

func (s *PostgresStore) FindClaimByText(ctx context.Context, text string) (*model.Claim, error) {
	return s.getClaimWhere(ctx, "md5(text) = md5($1)", text)
}

func (s *PostgresStore) ListClaims(ctx context.Context, f model.ClaimFilter) ([]model.Claim, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ParentID != nil {
		add("parent_id = $%d", *f.ParentID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Author != "" {
		add("author = $%d", f.Author)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + claimCols + ` FROM claims`)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	claims := []model.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *c)
	}
	return claims, rows.Err()
}

func (s *PostgresStore) TransitionClaim(ctx context.Context, id int64, from, to model.Status, description string) (*model.Claim, error) {
	c, err := scanClaim(s.pool.QueryRow(ctx,
		`UPDATE claims
		 SET status = $3,
		     status_description = CASE WHEN $4::TEXT = '' THEN status_description ELSE $4::TEXT END
		 WHERE id = $1 AND status = $2
		 RETURNING `+claimCols,
		id, string(from), string(to), description))
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing claim from a lost compare-and-set.
		cur, getErr := s.GetClaim(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("claim %d is %s, not %s: %w", id, cur.Status, from, model.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("transition claim %d: %w", id, err)
	}
	return c, nil
}

// --- Markets ---

const marketCols = `m.id::TEXT, m.claim_id, m.true_price::TEXT, m.false_price::TEXT,
	m.true_shares::TEXT, m.false_shares::TEXT, m.created_by, m.created_at`

func scanMarketInto(row pgx.Row, m *model.Market, extra ...any) error {
	var tp, fp, ts, fs string
	dest := append([]any{&m.ID, &m.ClaimID, &tp, &fp, &ts, &fs, &m.CreatedBy, &m.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	m.CurrentTruePrice = dec(tp)
	m.CurrentFalsePrice = dec(fp)
	m.TrueShares = dec(ts)
	m.FalseShares = dec(fs)
	return nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM claims WHERE id = $1 FOR UPDATE`, m.ClaimID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("claim %d: %w", m.ClaimID, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock claim %d: %w", m.ClaimID, err)
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM markets WHERE claim_id = $1)`, m.ClaimID).Scan(&exists); err != nil {
			return fmt.Errorf("check market for claim %d: %w", m.ClaimID, err)
		}
		if exists {
			return fmt.Errorf("market for claim %d: %w", m.ClaimID, model.ErrAlreadyExists)
		}
		if model.Status(status) != model.StatusAIReviewed {
			return fmt.Errorf("claim %d is %s: %w", m.ClaimID, status, model.ErrInvalidState)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO markets (id, claim_id, true_price, false_price, true_shares, false_shares, created_by, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
			m.ID, m.ClaimID,
			m.CurrentTruePrice.String(), m.CurrentFalsePrice.String(),
			m.TrueShares.String(), m.FalseShares.String(),
			m.CreatedBy, m.CreatedAt,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("market for claim %d: %w", m.ClaimID, model.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("insert market: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE claims SET status = $2 WHERE id = $1`,
			m.ClaimID, string(model.StatusMarketCreated)); err != nil {
			return fmt.Errorf("mark claim %d market_created: %w", m.ClaimID, err)
		}
		return nil
	})
}

func (s *PostgresStore) getMarketWhere(ctx context.Context, where string, arg any) (*model.Market, error) {
	var m model.Market
	err := scanMarketInto(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets m WHERE `+where, arg), &m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %v: %w", arg, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %v: %w", arg, err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	return s.getMarketWhere(ctx, "m.id = $1", id)
}

func (s *PostgresStore) GetMarketByClaim(ctx context.Context, claimID int64) (*model.Market, error) {
	return s.getMarketWhere(ctx, "m.claim_id = $1", claimID)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.MarketListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+`, c.text, c.slug
		 FROM markets m JOIN claims c ON c.id = m.claim_id
		 ORDER BY m.created_at DESC, m.claim_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	listings := []model.MarketListing{}
	for rows.Next() {
		var l model.MarketListing
		if err := scanMarketInto(rows, &l.Market, &l.ClaimText, &l.ClaimSlug); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// --- Accounts ---

func (s *PostgresStore) GetBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	var bal string
	err := s.pool.QueryRow(ctx, `SELECT balance::TEXT FROM accounts WHERE wallet = $1`, wallet).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", wallet, err)
	}
	return dec(bal), nil
}

func (s *PostgresStore) Credit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	var bal string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (wallet, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (wallet) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		 RETURNING balance::TEXT`,
		wallet, amount.String()).Scan(&bal)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit %s: %w", wallet, err)
	}
	return dec(bal), nil
}

func (s *PostgresStore) Debit(ctx context.Context, wallet string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, model.ErrInvalidAmount
	}
	var bal string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $2::NUMERIC
		 WHERE wallet = $1 AND balance >= $2::NUMERIC
		 RETURNING balance::TEXT`,
		wallet, amount.String()).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, model.ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", wallet, err)
	}
	return dec(bal), nil
}

// --- Buys ---

func (s *PostgresStore) ApplyBuy(ctx context.Context, fill *model.Fill) (*model.BuyResult, error) {
	e := fill.Entry
	if !e.Cost.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	supplyCol, priceCol := "true_shares", "true_price"
	if e.Side == model.SideFalse {
		supplyCol, priceCol = "false_shares", "false_price"
	}

	var res *model.BuyResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var m model.Market
		err := scanMarketInto(tx.QueryRow(ctx,
			`SELECT `+marketCols+` FROM markets m WHERE m.id = $1 FOR UPDATE`, e.MarketID), &m)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("market %s: %w", e.MarketID, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock market %s: %w", e.MarketID, err)
		}
		if !m.Supply(e.Side).Equal(fill.ExpectedSupply) {
			return fmt.Errorf("market %s %s supply moved: %w", e.MarketID, e.Side, model.ErrConflict)
		}
		e.ClaimID = m.ClaimID

		var balS string
		err = tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance - $2::NUMERIC
			 WHERE wallet = $1 AND balance >= $2::NUMERIC
			 RETURNING balance::TEXT`,
			e.Wallet, e.Cost.String()).Scan(&balS)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrInsufficientFunds
		}
		if err != nil {
			return fmt.Errorf("debit %s: %w", e.Wallet, err)
		}

		var sharesS, costS string
		if err := tx.QueryRow(ctx,
			`INSERT INTO positions (wallet, claim_id, side, shares, cost_basis)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (wallet, claim_id, side) DO UPDATE
			 SET shares = positions.shares + EXCLUDED.shares,
			     cost_basis = positions.cost_basis + EXCLUDED.cost_basis
			 RETURNING shares::TEXT, cost_basis::TEXT`,
			e.Wallet, m.ClaimID, string(e.Side), e.Amount.String(), e.Cost.String(),
		).Scan(&sharesS, &costS); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}

		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE markets SET %s = $2::NUMERIC, %s = $3::NUMERIC WHERE id = $1`, supplyCol, priceCol),
			e.MarketID, fill.NewSupply.String(), e.NewPrice.String()); err != nil {
			return fmt.Errorf("update market %s: %w", e.MarketID, err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, wallet, market_id, claim_id, side, amount, price, cost, new_price, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
			e.ID, e.Wallet, e.MarketID, e.ClaimID, string(e.Side),
			e.Amount.String(), e.Price.String(), e.Cost.String(), e.NewPrice.String(),
			e.Timestamp); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		if e.Side == model.SideTrue {
			m.TrueShares, m.CurrentTruePrice = fill.NewSupply, e.NewPrice
		} else {
			m.FalseShares, m.CurrentFalsePrice = fill.NewSupply, e.NewPrice
		}
		res = &model.BuyResult{
			BoughtAmount: e.Amount,
			Side:         e.Side,
			Cost:         e.Cost,
			NewPrice:     e.NewPrice,
			Market:       m,
			Balance:      dec(balS),
			Position: model.Position{
				Wallet:    e.Wallet,
				ClaimID:   m.ClaimID,
				Side:      e.Side,
				Shares:    dec(sharesS),
				CostBasis: dec(costS),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- Positions & ledger ---

func (s *PostgresStore) GetPosition(ctx context.Context, wallet string, claimID int64, side model.Side) (*model.Position, error) {
	p := model.Position{Wallet: wallet, ClaimID: claimID, Side: side}
	var sharesS, costS string
	err := s.pool.QueryRow(ctx,
		`SELECT shares::TEXT, cost_basis::TEXT FROM positions
		 WHERE wallet = $1 AND claim_id = $2 AND side = $3`,
		wallet, claimID, string(side)).Scan(&sharesS, &costS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%d/%s: %w", wallet, claimID, side, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	p.Shares = dec(sharesS)
	p.CostBasis = dec(costS)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, wallet string) ([]model.PositionView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.claim_id, c.text, c.slug, c.parent_id, p.side,
		        p.shares::TEXT, p.cost_basis::TEXT,
		        COALESCE(CASE WHEN p.side = 'TRUE' THEN m.true_shares ELSE m.false_shares END, 0)::TEXT
		 FROM positions p
		 JOIN claims c ON c.id = p.claim_id
		 LEFT JOIN markets m ON m.claim_id = p.claim_id
		 WHERE p.wallet = $1
		 ORDER BY p.claim_id, p.side DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("list positions %s: %w", wallet, err)
	}
	defer rows.Close()

	var views []model.PositionView
	for rows.Next() {
		var v model.PositionView
		var side, sharesS, costS, totalS string
		if err := rows.Scan(&v.ClaimID, &v.ClaimText, &v.ClaimSlug, &v.ParentID, &side,
			&sharesS, &costS, &totalS); err != nil {
			return nil, err
		}
		v.Side = model.Side(side)
		v.Shares = dec(sharesS)
		v.CostBasis = dec(costS)
		v.TotalShares = dec(totalS)
		views = append(views, v)
	}
	return views, rows.Err()
}

const ledgerCols = `id::TEXT, wallet, market_id::TEXT, claim_id, side,
	amount::TEXT, price::TEXT, cost::TEXT, new_price::TEXT, timestamp`

func (s *PostgresStore) GetLedgerEntriesByWallet(ctx context.Context, wallet string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE wallet = $1 ORDER BY timestamp`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	if _, err := uuid.Parse(marketID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var side, amountS, priceS, costS, newPriceS string

		if err := rows.Scan(&e.ID, &e.Wallet, &e.MarketID, &e.ClaimID, &side,
			&amountS, &priceS, &costS, &newPriceS, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Side = model.Side(side)
		e.Amount = dec(amountS)
		e.Price = dec(priceS)
		e.Cost = dec(costS)
		e.NewPrice = dec(newPriceS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Raw texts ---

func (s *PostgresStore) CreateRawText(ctx context.Context, r *model.RawText) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO raw_texts (content, content_hash, source, genre, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		r.Content, r.ContentHash, r.Source, r.Genre, r.CreatedAt).Scan(&r.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("raw text %s: %w", r.ContentHash, model.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create raw text: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRawTextByHash(ctx context.Context, hash string) (*model.RawText, error) {
	var r model.RawText
	err := s.pool.QueryRow(ctx,
		`SELECT id, content, content_hash, source, genre, created_at FROM raw_texts WHERE content_hash = $1`,
		hash).Scan(&r.ID, &r.Content, &r.ContentHash, &r.Source, &r.Genre, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("raw text %s: %w", hash, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get raw text: %w", err)
	}
	return &r, nil
}

var _ Store = (*PostgresStore)(nil)
