package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/reckon/engine/internal/domain/shared/valueobject"
)

// IdempotencyKey derives the stable key that makes invoice creation
// at-most-once per customer and period.
//
// The key is a function of (customer, year, month) and nothing else:
// usage totals, line counts and prices deliberately do not participate,
// so a rerun with corrected data still collides with the original row
// instead of billing the customer twice. Layout:
//
//	inv_<year><month>_<first 32 hex chars of SHA-256("<customer>|<year>|<month>")>
//
// The readable prefix makes keys greppable in logs and database dumps.
func IdempotencyKey(customerID string, period valueobject.BillingPeriod) string {
	payload := fmt.Sprintf("%s|%d|%02d", customerID, period.Year(), period.Month())
	digest := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("inv_%d%02d_%s", period.Year(), period.Month(), hex.EncodeToString(digest[:])[:32])
}
