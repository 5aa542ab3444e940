package relay

import (
	"math/big"

	"github.com/google/uuid"
)

// newCorrelationID renders 122 random bits in base 36.
func newCorrelationID() string {
	u := uuid.New()
	return new(big.Int).SetBytes(u[:]).Text(36)
}
