package nexus

import "math"

// DefaultCommissionRate is the platform's share of a contract.
const DefaultCommissionRate = 0.20

// Split divides a contract amount (cents) into the platform commission and
// the creator payout. commission = round(amount * rate), payout is the rest.
func Split(amount int64, rate float64) (commission, payout int64) {
	commission = int64(math.Round(float64(amount) * rate))
	return commission, amount - commission
}
