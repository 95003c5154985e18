package quotations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type fakeRepo struct {
	quotations map[int64]Quotation
	lines      map[int64][]QuotationLine
	entries    []audit.Entry
	nextID     int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{quotations: map[int64]Quotation{}, lines: map[int64][]QuotationLine{}}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Quotation, len(f.quotations))
	for k, v := range f.quotations {
		snapshot[k] = v
	}
	entries := len(f.entries)
	if err := fn(ctx, f); err != nil {
		f.quotations = snapshot
		f.entries = f.entries[:entries]
		return err
	}
	return nil
}

func (f *fakeRepo) InsertAuditEntry(_ context.Context, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeRepo) LastQuotationNumber(_ context.Context, companyID int64) (string, error) {
	var last Quotation
	for _, q := range f.quotations {
		if q.CompanyID == companyID && q.ID > last.ID {
			last = q
		}
	}
	return last.Number, nil
}

func (f *fakeRepo) InsertQuotation(_ context.Context, q Quotation) (int64, error) {
	f.nextID++
	q.ID = f.nextID
	f.quotations[q.ID] = q
	return q.ID, nil
}

func (f *fakeRepo) InsertQuotationLine(_ context.Context, line QuotationLine) (int64, error) {
	f.nextID++
	line.ID = f.nextID
	f.lines[line.QuotationID] = append(f.lines[line.QuotationID], line)
	return line.ID, nil
}

func (f *fakeRepo) DeleteQuotationLines(_ context.Context, quotationID int64) error {
	delete(f.lines, quotationID)
	return nil
}

func (f *fakeRepo) LockQuotation(_ context.Context, id int64) (Quotation, error) {
	q, ok := f.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	return q, nil
}

func (f *fakeRepo) UpdateQuotation(_ context.Context, id int64, updates map[string]any) error {
	q, ok := f.quotations[id]
	if !ok {
		return ErrQuotationNotFound
	}
	for col, v := range updates {
		switch col {
		case "status":
			q.Status = QuotationStatus(v.(string))
		case "notes":
			q.Notes = v.(string)
		case "total":
			q.Total = v.(decimal.Decimal)
		case "validity_days":
			q.ValidityDays = v.(int)
		case "warranty":
			q.Warranty = v.(string)
		case "delivery_time":
			q.DeliveryTime = v.(string)
		}
	}
	f.quotations[id] = q
	return nil
}

func (f *fakeRepo) GetQuotation(_ context.Context, id int64) (Quotation, error) {
	q, ok := f.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	q.Lines = f.lines[id]
	return q, nil
}

func (f *fakeRepo) ListQuotations(_ context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range f.quotations {
		if q.CompanyID == req.CompanyID {
			out = append(out, q)
		}
	}
	return out, len(out), nil
}

var (
	owner    = shared.Actor{UserID: 7, CompanyID: 1}
	stranger = shared.Actor{UserID: 9, CompanyID: 2}
	fixedNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
)

func newService(repo *fakeRepo) *Service {
	return NewService(repo, audit.NewRecorder(nil)).WithNow(func() time.Time { return fixedNow })
}

func sampleRequest() CreateQuotationRequest {
	return CreateQuotationRequest{
		ClientTaxID: "20123456789",
		ClientName:  "Acme SAC",
		Currency:    "PEN",
		Lines: []CreateQuotationLineReq{
			{Description: "Router", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("59.00")},
			{Description: "Cable", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.RequireFromString("10.00")},
		},
	}
}

func TestNextNumber(t *testing.T) {
	require.Equal(t, "COT-0001", NextNumber(""))
	require.Equal(t, "COT-0043", NextNumber("COT-0042"))
	require.Equal(t, "COT-10000", NextNumber("COT-9999"))
	require.Equal(t, "COT-0001", NextNumber("draft"))
}

func TestCreateNumbersAndDefaults(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)

	first, err := svc.Create(context.Background(), owner, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "COT-0001", first.Number)
	require.Equal(t, "133.00", first.Total.StringFixed(2))
	require.Equal(t, DefaultValidityDays, first.ValidityDays)
	require.Equal(t, DefaultWarranty, first.Warranty)
	require.Equal(t, QuotationStatusPending, first.Status)
	require.True(t, first.ExchangeRate.Equal(decimal.NewFromInt(1)))
	require.Len(t, first.Lines, 2)
	require.Equal(t, fixedNow.AddDate(0, 0, 5), first.ValidUntil())

	second, err := svc.Create(context.Background(), owner, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "COT-0002", second.Number)

	require.Len(t, repo.entries, 2)
	require.Equal(t, audit.KindQuotation, repo.entries[0].Kind)
	require.Equal(t, audit.ActionInsert, repo.entries[0].Action)
}

func TestCreateRejectsInvalidLines(t *testing.T) {
	svc := newService(newFakeRepo())
	req := sampleRequest()
	req.Lines[0].Quantity = decimal.Zero

	_, err := svc.Create(context.Background(), owner, req)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateReplacesLinesAndTotal(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	q, err := svc.Create(context.Background(), owner, sampleRequest())
	require.NoError(t, err)

	lines := []CreateQuotationLineReq{{Description: "Switch", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("236.00")}}
	updated, err := svc.Update(context.Background(), owner, q.ID, UpdateQuotationRequest{Lines: &lines})
	require.NoError(t, err)
	require.Equal(t, "236.00", updated.Total.StringFixed(2))
	require.Len(t, updated.Lines, 1)

	subtotal, tax := updated.Breakdown()
	require.Equal(t, "200.00", subtotal.StringFixed(2))
	require.Equal(t, "36.00", tax.StringFixed(2))
	require.Contains(t, repo.entries[len(repo.entries)-1].Summary, audit.UpdatePrefix)
}

func TestStatusTransitions(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	q, err := svc.Create(context.Background(), owner, sampleRequest())
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), owner, q.ID, "price too high")
	require.NoError(t, err)
	require.Equal(t, QuotationStatusRejected, rejected.Status)
	require.Equal(t, "price too high", rejected.Notes)

	_, err = svc.Accept(context.Background(), owner, q.ID)
	require.ErrorIs(t, err, ErrInvalidStatus)

	notes := "late edit"
	_, err = svc.Update(context.Background(), owner, q.ID, UpdateQuotationRequest{Notes: &notes})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOtherCompanyCannotSeeQuotation(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)
	q, err := svc.Create(context.Background(), owner, sampleRequest())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), stranger, q.ID)
	require.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = svc.Accept(context.Background(), stranger, q.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, QuotationStatusPending, repo.quotations[q.ID].Status)
}
