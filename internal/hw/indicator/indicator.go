package indicator

// Indicator is a two-state lamp such as the status LED or the CCD
// exposure indicator, regardless of how it is wired.
type Indicator interface {
	Set(on bool) error
	On() bool
}
