package booking

// ExpectedTotal returns seatCount*seatPriceCents plus every line total.
func ExpectedTotal(seatCount int, seatPriceCents int64, lines []ResolvedLine) int64 {
	total := int64(seatCount) * seatPriceCents
	for _, l := range lines {
		total += l.Total()
	}
	return total
}

// ValidateTotal recomputes the booking total and compares it with the
// amount the client declared.  A difference of one cent is tolerated for
// rounding on the client side.
func ValidateTotal(seatCount int, seatPriceCents int64, lines []ResolvedLine, declaredCents int64) (int64, error) {
	expected := ExpectedTotal(seatCount, seatPriceCents, lines)
	if abs(declaredCents-expected) > priceEpsilonCents {
		return expected, &Error{
			Kind:     KindPriceMismatch,
			Message:  "declared total does not match",
			Expected: expected,
			Declared: declaredCents,
		}
	}
	return expected, nil
}
