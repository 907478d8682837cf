package pipeline

// State is a step of the per-record state machine.
type State string

// Record states. Emitted and Skipped are terminal.
const (
	StatePending       State = "pending"
	StateResolved      State = "resolved"
	StateEnriched      State = "enriched"
	StateCountryLinked State = "country_linked"
	StateStateLinked   State = "state_linked"
	StateEmitted       State = "emitted"
	StateSkipped       State = "skipped"
)

// Terminal reports whether s ends the record's processing.
func (s State) Terminal() bool {
	return s == StateEmitted || s == StateSkipped
}
