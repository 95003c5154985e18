package shared

import "fmt"

// TaxCloseLockKey builds redis keys for the tax period close critical section.
func TaxCloseLockKey(companyID int64, period string) string {
	return fmt.Sprintf("ledgercore:tax:%d:%s:lock", companyID, period)
}
