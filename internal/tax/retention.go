package tax

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/audit"
	"github.com/odyssey-erp/ledgercore/internal/documents"
	"github.com/odyssey-erp/ledgercore/internal/shared"
)

func (in RetentionInput) validate() error {
	if strings.TrimSpace(in.AgentTaxID) == "" {
		return shared.Required("agent_tax_id")
	}
	if strings.TrimSpace(in.SeriesNumber) == "" {
		return shared.Required("series_number")
	}
	if len(in.Lines) == 0 {
		return shared.Required("lines")
	}
	for i, l := range in.Lines {
		if !l.BaseAmount.IsPositive() {
			return shared.Invalid(fmt.Sprintf("lines[%d].base_amount", i), "must be positive")
		}
		if l.Rate.IsNegative() {
			return shared.Invalid(fmt.Sprintf("lines[%d].rate", i), "must not be negative")
		}
	}
	return nil
}

// ApplyRetention registers a retention certificate and reduces the pending
// balance of every sale it references by the withheld origin-currency
// amount. Lines naming unknown sales are reported, not applied; amounts
// above a sale's pending balance are reported as excess.
func (s *Service) ApplyRetention(ctx context.Context, actor shared.Actor, in RetentionInput) (RetentionOutcome, error) {
	if err := in.validate(); err != nil {
		return RetentionOutcome{}, err
	}
	if in.IssueDate.IsZero() {
		in.IssueDate = s.now()
	}
	total := in.TotalBase
	if total.IsZero() {
		for _, l := range in.Lines {
			total = total.Add(l.BaseAmount)
		}
	}
	var out RetentionOutcome
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out = RetentionOutcome{Excess: decimal.Zero}
		agent, created, err := tx.EnsureCounterparty(ctx, actor.CompanyID, strings.TrimSpace(in.AgentTaxID), strings.TrimSpace(in.AgentName))
		if err != nil {
			return err
		}
		if created {
			s.audit.Record(ctx, tx, actor, audit.Event{
				Action:   audit.ActionInsert,
				Kind:     audit.KindCounterparty,
				EntityID: agent.ID,
				Summary:  func() string { return fmt.Sprintf("Counterparty %s (%s)", agent.Name, agent.TaxID) },
			})
		}
		exists, err := tx.RetentionCertificateExists(ctx, actor.CompanyID, agent.ID, in.SeriesNumber)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCertificate
		}
		cert := Certificate{
			CompanyID:    actor.CompanyID,
			AgentID:      agent.ID,
			SeriesNumber: strings.ToUpper(strings.TrimSpace(in.SeriesNumber)),
			IssueDate:    in.IssueDate,
			TotalBase:    total,
		}
		if cert.ID, err = tx.InsertRetentionCertificate(ctx, cert); err != nil {
			return fmt.Errorf("tax: insert certificate: %w", err)
		}
		s.audit.Record(ctx, tx, actor, audit.Event{
			Action:   audit.ActionInsert,
			Kind:     audit.KindRetention,
			EntityID: cert.ID,
			Summary: func() string {
				return fmt.Sprintf("Retention certificate %s from %s for %s %s", cert.SeriesNumber, agent.Name, shared.BaseCurrency, cert.TotalBase.StringFixed(2))
			},
		})
		out.Certificate = cert
		for _, line := range in.Lines {
			docID, ok, err := s.matchSale(ctx, tx, actor.CompanyID, line.InvoiceRef)
			if err != nil {
				return err
			}
			if !ok {
				out.Unmatched = append(out.Unmatched, line.InvoiceRef)
				continue
			}
			origin := line.Origin()
			_, _, excess, err := s.documents.ApplyCredit(ctx, tx, actor, docID, origin)
			if err != nil {
				return err
			}
			d := Detail{CertificateID: cert.ID, DocumentID: docID, BaseAmount: line.BaseAmount, OriginAmount: origin, Rate: line.Rate}
			if d.ID, err = tx.InsertRetentionDetail(ctx, d); err != nil {
				return fmt.Errorf("tax: insert retention detail: %w", err)
			}
			out.Details = append(out.Details, d)
			out.Excess = out.Excess.Add(excess)
		}
		return nil
	})
	if err != nil {
		return RetentionOutcome{}, err
	}
	return out, nil
}

func (s *Service) matchSale(ctx context.Context, tx TxRepository, companyID int64, ref string) (int64, bool, error) {
	series, number, err := documents.SplitSeriesNumber(ref)
	if err != nil {
		return 0, false, nil
	}
	return tx.FindSaleDocument(ctx, companyID, series, number)
}
