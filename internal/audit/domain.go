package audit

import "time"

// Action enumerates the mutation types recorded in the trail.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Kind names a watched entity.
type Kind string

const (
	KindDocument     Kind = "Document"
	KindMovement     Kind = "FinancialMovement"
	KindProduct      Kind = "Product"
	KindCounterparty Kind = "Counterparty"
	KindLoan         Kind = "Loan"
	KindRetention    Kind = "RetentionCertificate"
	KindReceivable   Kind = "ReceivablePayableAccount"
	KindQuotation    Kind = "Quotation"
)

// UpdatePrefix marks update summaries so they read differently from inserts.
const UpdatePrefix = "[EDIT]"

var watched = map[Kind]struct{}{
	KindDocument:     {},
	KindMovement:     {},
	KindProduct:      {},
	KindCounterparty: {},
	KindLoan:         {},
	KindRetention:    {},
	KindReceivable:   {},
	KindQuotation:    {},
}

// Watched reports whether mutations of k are recorded.
func (k Kind) Watched() bool {
	_, ok := watched[k]
	return ok
}

// Event describes one mutation. Summary is evaluated lazily by the recorder.
type Event struct {
	Action   Action
	Kind     Kind
	EntityID int64
	Summary  func() string
}

// Entry is a persisted audit record. Entries are never updated or deleted.
type Entry struct {
	ID        int64
	UserID    int64
	CompanyID int64
	Action    Action
	Kind      Kind
	EntityID  int64
	Summary   string
	At        time.Time
}

// TimelineFilters narrows timeline queries.
type TimelineFilters struct {
	CompanyID int64
	From      time.Time
	To        time.Time
	UserID    int64
	Kind      Kind
	Action    Action
	EntityID  int64
	Page      int
	PageSize  int
}

// PagingInfo describes navigation around a timeline page.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	NextPage int
	PrevPage int
}

// Result wraps a timeline page.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}
