package portal

import "fmt"

// Phase is the single UI phase of a session. Idle, Loading and Posting are the
// connected sub-states, so loading and posting can never hold at the same time.
type Phase int

const (
	PhaseNotConnected Phase = iota
	PhaseIdle
	PhaseLoading
	PhasePosting
)

var phaseNames = map[Phase]string{
	PhaseNotConnected: "not_connected",
	PhaseIdle:         "idle",
	PhaseLoading:      "loading",
	PhasePosting:      "posting",
}

func (phase Phase) String() string {
	if name, ok := phaseNames[phase]; ok {
		return name
	}
	return "invalid"
}

// IsConnected reports whether an account has been authorized.
func (phase Phase) IsConnected() bool {
	return phase != PhaseNotConnected
}

// IsLoading reports whether a profile read is in progress.
func (phase Phase) IsLoading() bool {
	return phase == PhaseLoading
}

// IsPosting reports whether a profile write is in progress.
func (phase Phase) IsPosting() bool {
	return phase == PhasePosting
}

// MarshalText renders the phase by name for JSON snapshots.
func (phase Phase) MarshalText() ([]byte, error) {
	return []byte(phase.String()), nil
}

// UnmarshalText parses a phase name produced by MarshalText.
func (phase *Phase) UnmarshalText(text []byte) error {
	for candidate, name := range phaseNames {
		if name == string(text) {
			*phase = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
