// Package integration connects the core to outside collaborators: the tax
// authority's document validator and the notification queue.
package integration

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// StatusAccepted is the authority's answer for a valid document.
const StatusAccepted = "ACEPTADO"

// AuthorityStub answers every validation with StatusAccepted.
type AuthorityStub struct {
	logger *slog.Logger
}

// NewAuthorityStub builds AuthorityStub.
func NewAuthorityStub(logger *slog.Logger) *AuthorityStub {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorityStub{logger: logger}
}

// Validate reports the authority status of a document.
func (a *AuthorityStub) Validate(ctx context.Context, series, number, issuerTaxID string, total decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.logger.Debug("authority validation",
		slog.String("document", strings.ToUpper(series)+"-"+number),
		slog.String("issuer", issuerTaxID),
		slog.String("total", total.StringFixed(2)))
	return StatusAccepted, nil
}
