package shared

// Actor identifies who performs a mutation and for which company. Every
// mutating entry point receives it as an argument.
type Actor struct {
	UserID    int64
	CompanyID int64
}

// Authenticated reports whether mutations by the actor are attributable.
func (a Actor) Authenticated() bool {
	return a.UserID != 0
}

// Owns reports whether a record of companyID belongs to the actor's company.
func (a Actor) Owns(companyID int64) bool {
	return a.CompanyID != 0 && a.CompanyID == companyID
}
