package tax

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/ledger"
	"github.com/odyssey-erp/ledgercore/internal/platform/db"
	"github.com/odyssey-erp/ledgercore/internal/schedule"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// Store implements tax persistence on any pgx querier.
type Store struct {
	q db.Querier
}

// NewStore constructs a Store.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// FindSaleDocument returns the sale printed as series-number.
func (s *Store) FindSaleDocument(ctx context.Context, companyID int64, series, number string) (int64, bool, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		SELECT id FROM documents
		WHERE company_id = $1 AND series = $2 AND number = $3 AND operation = 'SALE'
		ORDER BY id LIMIT 1`, companyID, series, number).Scan(&id)
	if db.IsNoRows(err) {
		return 0, false, nil
	}
	return id, err == nil, err
}

// RetentionCertificateExists reports whether the agent already issued
// seriesNumber to the company.
func (s *Store) RetentionCertificateExists(ctx context.Context, companyID, agentID int64, seriesNumber string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM retention_certificates
			WHERE company_id = $1 AND agent_id = $2 AND upper(series_number) = upper($3))`,
		companyID, agentID, seriesNumber).Scan(&exists)
	return exists, err
}

// InsertRetentionCertificate stores a certificate header.
func (s *Store) InsertRetentionCertificate(ctx context.Context, c Certificate) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO retention_certificates (company_id, agent_id, series_number, issue_date, total_base)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.CompanyID, c.AgentID, c.SeriesNumber, c.IssueDate, c.TotalBase).Scan(&id)
	return id, err
}

// InsertRetentionDetail stores one applied certificate line.
func (s *Store) InsertRetentionDetail(ctx context.Context, d Detail) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO retention_details (certificate_id, document_id, base_amount, origin_amount, rate)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		d.CertificateID, d.DocumentID, d.BaseAmount, d.OriginAmount, d.Rate).Scan(&id)
	return id, err
}

// TaxPaymentExists reports whether the operation number was already
// registered for the same code and period.
func (s *Store) TaxPaymentExists(ctx context.Context, p Payment) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tax_payments
			WHERE company_id = $1 AND operation_number = $2 AND period = $3 AND code = $4)`,
		p.CompanyID, p.OperationNumber, p.Period, p.Code).Scan(&exists)
	return exists, err
}

// InsertTaxPayment stores a tax payment.
func (s *Store) InsertTaxPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO tax_payments (company_id, code, period, operation_number, amount, paid_at, movement_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.CompanyID, p.Code, p.Period, p.OperationNumber, p.Amount, p.PaidAt, p.MovementID).Scan(&id)
	return id, err
}

// UpsertClosure stores a period close, replacing an earlier close of the
// same period.
func (s *Store) UpsertClosure(ctx context.Context, c Closure) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO tax_period_closures (company_id, period, debit, credit, retentions, payments,
			carry_in, liability, credit_carry, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (company_id, period) DO UPDATE SET
			debit = EXCLUDED.debit,
			credit = EXCLUDED.credit,
			retentions = EXCLUDED.retentions,
			payments = EXCLUDED.payments,
			carry_in = EXCLUDED.carry_in,
			liability = EXCLUDED.liability,
			credit_carry = EXCLUDED.credit_carry,
			closed_at = EXCLUDED.closed_at`,
		c.CompanyID, c.Period, c.Debit, c.Credit, c.Retentions, c.Payments,
		c.CarryIn, c.Liability, c.CreditCarry, c.ClosedAt)
	return err
}

// Repository persists tax data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	documentsStore = documents.Store
	ledgerStore    = ledger.Store
	scheduleStore  = schedule.Store
	auditStore     = audit.Store
)

type txRepo struct {
	*Store
	*documentsStore
	*ledgerStore
	*scheduleStore
	*auditStore
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			Store:          NewStore(tx),
			documentsStore: documents.NewStore(tx),
			ledgerStore:    ledger.NewStore(tx),
			scheduleStore:  schedule.NewStore(tx),
			auditStore:     audit.NewStore(tx),
		})
	})
}

const fiscalFilter = `kind <> 'RECIBO' AND authority_status <> 'INTERNO'`

// SumTax converts the IGV of op's fiscal documents issued in period at each
// document's own rate.
func (r *Repository) SumTax(ctx context.Context, companyID int64, period shared.Period, op documents.Operation, excludeShield bool) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(tax * exchange_rate), 0) FROM documents
		WHERE company_id = $1 AND operation = $2 AND issue_date >= $3 AND issue_date < $4 AND ` + fiscalFilter
	if excludeShield {
		query += ` AND NOT tax_shield`
	}
	var v decimal.Decimal
	err := r.pool.QueryRow(ctx, query, companyID, string(op), period.Start(), period.End()).Scan(&v)
	return shared.Round2(v), err
}

// SumRetentions totals certificates issued in period.
func (r *Repository) SumRetentions(ctx context.Context, companyID int64, period shared.Period) (decimal.Decimal, error) {
	var v decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_base), 0) FROM retention_certificates
		WHERE company_id = $1 AND issue_date >= $2 AND issue_date < $3`,
		companyID, period.Start(), period.End()).Scan(&v)
	return v, err
}

// SumTaxPayments totals payments of code declared for period.
func (r *Repository) SumTaxPayments(ctx context.Context, companyID int64, period shared.Period, code string) (decimal.Decimal, error) {
	var v decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM tax_payments
		WHERE company_id = $1 AND period = $2 AND code = $3`,
		companyID, period.String(), code).Scan(&v)
	return v, err
}

// GetClosure loads the close of period if there is one.
func (r *Repository) GetClosure(ctx context.Context, companyID int64, period shared.Period) (Closure, bool, error) {
	var c Closure
	err := r.pool.QueryRow(ctx, `
		SELECT company_id, period, debit, credit, retentions, payments, carry_in, liability, credit_carry, closed_at
		FROM tax_period_closures WHERE company_id = $1 AND period = $2`, companyID, period.String()).
		Scan(&c.CompanyID, &c.Period, &c.Debit, &c.Credit, &c.Retentions, &c.Payments,
			&c.CarryIn, &c.Liability, &c.CreditCarry, &c.ClosedAt)
	if db.IsNoRows(err) {
		return Closure{}, false, nil
	}
	if err != nil {
		return Closure{}, false, err
	}
	return c, true, nil
}

// ListTraceLines lists the fiscal documents of period newest first.
func (r *Repository) ListTraceLines(ctx context.Context, companyID int64, period shared.Period) ([]TraceLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.issue_date, d.series || '-' || d.number, c.name, d.operation, d.currency,
			d.tax, d.exchange_rate, d.tax_shield
		FROM documents d
		JOIN counterparties c ON c.id = d.counterparty_id
		WHERE d.company_id = $1 AND d.issue_date >= $2 AND d.issue_date < $3
			AND d.kind <> 'RECIBO' AND d.authority_status <> 'INTERNO'
		ORDER BY d.issue_date DESC, d.id DESC`, companyID, period.Start(), period.End())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TraceLine
	for rows.Next() {
		var t TraceLine
		if err := rows.Scan(&t.DocumentID, &t.IssueDate, &t.Code, &t.Counterparty, &t.Operation, &t.Currency,
			&t.Tax, &t.Rate, &t.TaxShield); err != nil {
			return nil, err
		}
		t.TaxBase = shared.Round2(t.Tax.Mul(t.Rate))
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRetentionDetails lists details of certificates issued in period.
func (r *Repository) ListRetentionDetails(ctx context.Context, companyID int64, period shared.Period) ([]Detail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.id, d.certificate_id, d.document_id, d.base_amount, d.origin_amount, d.rate
		FROM retention_details d
		JOIN retention_certificates c ON c.id = d.certificate_id
		WHERE c.company_id = $1 AND c.issue_date >= $2 AND c.issue_date < $3
		ORDER BY c.issue_date DESC, d.id`, companyID, period.Start(), period.End())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Detail
	for rows.Next() {
		var d Detail
		if err := rows.Scan(&d.ID, &d.CertificateID, &d.DocumentID, &d.BaseAmount, &d.OriginAmount, &d.Rate); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
