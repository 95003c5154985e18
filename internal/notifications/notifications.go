// Package notifications keeps the per-company inbox of system messages.
package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/platform/httpx"
)

// Notification is one inbox message.
type Notification struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Inbox stores and lists notifications.
type Inbox struct {
	pool *pgxpool.Pool
}

// NewInbox constructs Inbox.
func NewInbox(pool *pgxpool.Pool) *Inbox {
	return &Inbox{pool: pool}
}

// Deliver appends a message to the company's inbox.
func (i *Inbox) Deliver(ctx context.Context, companyID int64, message string) error {
	_, err := i.pool.Exec(ctx, `INSERT INTO notifications (company_id, message) VALUES ($1, $2)`, companyID, message)
	return err
}

// List returns the newest messages first.
func (i *Inbox) List(ctx context.Context, companyID int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := i.pool.Query(ctx, `
		SELECT id, company_id, message, read, created_at FROM notifications
		WHERE company_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.CompanyID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkAllRead flags every unread message of the company.
func (i *Inbox) MarkAllRead(ctx context.Context, companyID int64) (int64, error) {
	tag, err := i.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE company_id = $1 AND NOT read`, companyID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Handler exposes the inbox.
type Handler struct {
	inbox  *Inbox
	logger *slog.Logger
}

// NewHandler builds Handler.
func NewHandler(inbox *Inbox, logger *slog.Logger) *Handler {
	return &Handler{inbox: inbox, logger: logger}
}

// MountRoutes registers inbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/read", h.markRead)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	items, err := h.inbox.List(r.Context(), actor.CompanyID, 50)
	if err != nil {
		h.logger.Warn("notifications: list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	n, err := h.inbox.MarkAllRead(r.Context(), actor.CompanyID)
	if err != nil {
		h.logger.Warn("notifications: mark read", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"marked": n})
}
