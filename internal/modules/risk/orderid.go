package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/convictiond/internal/domain"
)

// orderNamespace is the fixed UUIDv5 namespace for client order ids.
var orderNamespace = uuid.MustParse("6b3ad1f4-9c7e-4af1-8a2e-3f5d2c9b71e0")

// ClientOrderID derives a deterministic client order id from the order's
// identity: ticker, side, trading date and an intent discriminator (e.g. the
// signal date or exit reason). Re-submitting the same intent always yields
// the same id, which the execution venue rejects as a duplicate.
func ClientOrderID(ticker string, side domain.OrderSide, date time.Time, intent string) string {
	seed := fmt.Sprintf("%s|%s|%s|%s", ticker, side, date.Format("2006-01-02"), intent)
	return uuid.NewSHA1(orderNamespace, []byte(seed)).String()
}
