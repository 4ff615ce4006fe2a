package ledger

// Allocation is how a required amount is covered.
type Allocation struct {
	Required int64 `json:"required"`
	Points   int64 `json:"points"`
	Credit   int64 `json:"credit"`
}

// Split covers required from points first and credit for the remainder.
// This order is business policy and is not configurable.
//
// It never returns a partial allocation: when points+credit cannot cover
// required the result is an *InsufficientFundsError.
func Split(required, points, credit int64) (Allocation, error) {
	if required <= 0 {
		return Allocation{}, ErrInvalidAmount
	}

	points = clamp(points)
	credit = clamp(credit)

	pointsUsed := min(points, required)
	creditNeeded := required - pointsUsed

	if creditNeeded > credit {
		return Allocation{}, &InsufficientFundsError{
			Required:        required,
			AvailablePoints: points,
			AvailableCredit: credit,
			Shortfall:       creditNeeded - credit,
		}
	}

	return Allocation{
		Required: required,
		Points:   pointsUsed,
		Credit:   creditNeeded,
	}, nil
}
