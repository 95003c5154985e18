package quotations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

var (
	ErrQuotationNotFound = fmt.Errorf("quotation %w", shared.ErrNotFound)
	ErrInvalidStatus     = fmt.Errorf("invalid status transition: %w", shared.ErrValidation)
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	audit.Writer
	LastQuotationNumber(ctx context.Context, companyID int64) (string, error)
	InsertQuotation(ctx context.Context, q Quotation) (int64, error)
	InsertQuotationLine(ctx context.Context, line QuotationLine) (int64, error)
	DeleteQuotationLines(ctx context.Context, quotationID int64) error
	LockQuotation(ctx context.Context, id int64) (Quotation, error)
	UpdateQuotation(ctx context.Context, id int64, updates map[string]any) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	ListQuotations(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
}

// ListQuotationsRequest filters the quotation list.
type ListQuotationsRequest struct {
	CompanyID int64
	Status    QuotationStatus
	Search    string
	Page      shared.Page
}

type Service struct {
	repo  RepositoryPort
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(repo RepositoryPort, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, audit: recorder, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow overrides the clock.
func (s *Service) WithNow(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// NextNumber derives the number following last, COT-0001 when there is none.
func NextNumber(last string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, last)
	n, err := strconv.Atoi(digits)
	if err != nil {
		n = 0
	}
	return fmt.Sprintf("%s%04d", NumberPrefix, n+1)
}

func buildLines(reqs []CreateQuotationLineReq) ([]QuotationLine, decimal.Decimal, error) {
	total := decimal.Zero
	lines := make([]QuotationLine, 0, len(reqs))
	for i, lr := range reqs {
		if strings.TrimSpace(lr.Description) == "" {
			return nil, decimal.Zero, shared.Invalid(fmt.Sprintf("lines[%d].description", i), "is required")
		}
		if !lr.Quantity.IsPositive() {
			return nil, decimal.Zero, shared.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if lr.UnitPrice.IsNegative() {
			return nil, decimal.Zero, shared.Invalid(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
		line := QuotationLine{
			ProductID:   lr.ProductID,
			Description: strings.TrimSpace(lr.Description),
			Quantity:    lr.Quantity,
			UnitPrice:   lr.UnitPrice,
			LineOrder:   lr.LineOrder,
		}
		if line.LineOrder == 0 {
			line.LineOrder = i + 1
		}
		total = total.Add(line.LineTotal())
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, decimal.Zero, shared.Required("lines")
	}
	return lines, total, nil
}

func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateQuotationRequest) (Quotation, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return Quotation{}, shared.Required("client_name")
	}
	if strings.TrimSpace(req.ClientTaxID) == "" {
		return Quotation{}, shared.Required("client_tax_id")
	}
	if !shared.ValidCurrency(req.Currency) {
		return Quotation{}, shared.Invalid("currency", "must be PEN or USD")
	}
	lines, total, err := buildLines(req.Lines)
	if err != nil {
		return Quotation{}, err
	}
	quoteDate := s.now()
	if req.QuoteDate != "" {
		quoteDate, err = time.Parse(time.DateOnly, req.QuoteDate)
		if err != nil {
			return Quotation{}, shared.Invalid("quote_date", "must be YYYY-MM-DD")
		}
	}
	rate := req.ExchangeRate
	if req.Currency == shared.BaseCurrency || !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	q := Quotation{
		CompanyID:    actor.CompanyID,
		QuoteDate:    quoteDate,
		ValidityDays: req.ValidityDays,
		ClientTaxID:  strings.TrimSpace(req.ClientTaxID),
		ClientName:   strings.TrimSpace(req.ClientName),
		Address:      req.Address,
		Attention:    req.Attention,
		Currency:     req.Currency,
		ExchangeRate: rate,
		Total:        total,
		Warranty:     req.Warranty,
		DeliveryTime: req.DeliveryTime,
		Notes:        req.Notes,
		Status:       QuotationStatusPending,
		CreatedAt:    s.now(),
	}
	if q.ValidityDays == 0 {
		q.ValidityDays = DefaultValidityDays
	}
	if q.Warranty == "" {
		q.Warranty = DefaultWarranty
	}
	if q.DeliveryTime == "" {
		q.DeliveryTime = DefaultDelivery
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		last, err := repo.LastQuotationNumber(ctx, actor.CompanyID)
		if err != nil {
			return fmt.Errorf("generate number: %w", err)
		}
		q.Number = NextNumber(last)
		id, err := repo.InsertQuotation(ctx, q)
		if err != nil {
			return fmt.Errorf("create quotation: %w", err)
		}
		q.ID = id
		for i := range lines {
			lines[i].QuotationID = id
			lineID, err := repo.InsertQuotationLine(ctx, lines[i])
			if err != nil {
				return fmt.Errorf("insert quotation line: %w", err)
			}
			lines[i].ID = lineID
		}
		s.audit.Record(ctx, repo, actor, audit.Event{
			Action: audit.ActionInsert, Kind: audit.KindQuotation, EntityID: id,
			Summary: func() string {
				return fmt.Sprintf("Quotation %s for %s: %s %s", q.Number, q.ClientName, q.Currency, q.Total.StringFixed(2))
			},
		})
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	q.Lines = lines
	return q, nil
}

func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, req UpdateQuotationRequest) (Quotation, error) {
	var newLines []QuotationLine
	updates := make(map[string]any)
	if req.Lines != nil {
		lines, total, err := buildLines(*req.Lines)
		if err != nil {
			return Quotation{}, err
		}
		newLines = lines
		updates["total"] = total
	}
	if req.ValidityDays != nil {
		updates["validity_days"] = *req.ValidityDays
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.Warranty != nil {
		updates["warranty"] = *req.Warranty
	}
	if req.DeliveryTime != nil {
		updates["delivery_time"] = *req.DeliveryTime
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		existing, err := repo.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(existing.CompanyID) {
			return ErrQuotationNotFound
		}
		if existing.Status != QuotationStatusPending {
			return fmt.Errorf("%w: only PENDING quotations can be updated", ErrInvalidStatus)
		}
		if len(updates) > 0 {
			if err := repo.UpdateQuotation(ctx, id, updates); err != nil {
				return err
			}
		}
		if newLines != nil {
			if err := repo.DeleteQuotationLines(ctx, id); err != nil {
				return err
			}
			for i := range newLines {
				newLines[i].QuotationID = id
				if _, err := repo.InsertQuotationLine(ctx, newLines[i]); err != nil {
					return fmt.Errorf("insert quotation line: %w", err)
				}
			}
		}
		s.audit.Record(ctx, repo, actor, audit.Event{
			Action: audit.ActionUpdate, Kind: audit.KindQuotation, EntityID: id,
			Summary: func() string { return fmt.Sprintf("Quotation %s for %s", existing.Number, existing.ClientName) },
		})
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	return s.Get(ctx, actor, id)
}

// Accept marks a pending quotation as accepted by the client.
func (s *Service) Accept(ctx context.Context, actor shared.Actor, id int64) (Quotation, error) {
	return s.transition(ctx, actor, id, QuotationStatusAccepted, "")
}

// Reject marks a pending quotation as rejected. The reason is appended to the notes.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id int64, reason string) (Quotation, error) {
	return s.transition(ctx, actor, id, QuotationStatusRejected, reason)
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, to QuotationStatus, reason string) (Quotation, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		existing, err := repo.LockQuotation(ctx, id)
		if err != nil {
			return err
		}
		if !actor.Owns(existing.CompanyID) {
			return ErrQuotationNotFound
		}
		if existing.Status != QuotationStatusPending {
			return fmt.Errorf("%w: %s quotations cannot become %s", ErrInvalidStatus, existing.Status, to)
		}
		updates := map[string]any{"status": string(to)}
		if reason = strings.TrimSpace(reason); reason != "" {
			notes := reason
			if existing.Notes != "" {
				notes = existing.Notes + "\n" + reason
			}
			updates["notes"] = notes
		}
		if err := repo.UpdateQuotation(ctx, id, updates); err != nil {
			return err
		}
		s.audit.Record(ctx, repo, actor, audit.Event{
			Action: audit.ActionUpdate, Kind: audit.KindQuotation, EntityID: id,
			Summary: func() string { return fmt.Sprintf("Quotation %s %s", existing.Number, strings.ToLower(string(to))) },
		})
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	return s.Get(ctx, actor, id)
}

func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Quotation, error) {
	q, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Quotation{}, ErrQuotationNotFound
		}
		return Quotation{}, err
	}
	if !actor.Owns(q.CompanyID) {
		return Quotation{}, ErrQuotationNotFound
	}
	return q, nil
}

func (s *Service) List(ctx context.Context, actor shared.Actor, req ListQuotationsRequest) ([]Quotation, int, error) {
	req.CompanyID = actor.CompanyID
	req.Page = req.Page.Normalize(20, 100)
	return s.repo.ListQuotations(ctx, req)
}
