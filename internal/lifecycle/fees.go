package lifecycle

// SplitEarnings divides a captured amount between the platform and the driver.
// The fee is floored so rounding always favors the driver.
func SplitEarnings(gross, feePercent int64) (platformFee, net int64) {
	if gross <= 0 || feePercent <= 0 {
		return 0, gross
	}
	platformFee = gross * feePercent / 100
	return platformFee, gross - platformFee
}
