package alter

// State is a step of an alteration.
type State int

const (
	// StatePlanned: the new table is bound in memory, nothing is durable.
	StatePlanned State = iota
	// StateShadowWritten: the new definition and boundary files exist
	// next to the live ones.
	StateShadowWritten
	// StateLogged: both entry chains and the root are in the DDL log.
	StateLogged
	// StateBackendApplied: the new leaves are created and filled.
	StateBackendApplied
	// StateMetadataSwapped: the log root points at the forward chain and
	// the new definition is live.
	StateMetadataSwapped
	// StateLogCleared: the operation is complete and forgotten.
	StateLogCleared
	// StateFailedRolledBack: the operation failed before the swap and
	// its traces were removed.
	StateFailedRolledBack
)

var stateNames = [...]string{
	StatePlanned:          "PLANNED",
	StateShadowWritten:    "SHADOW_WRITTEN",
	StateLogged:           "LOGGED",
	StateBackendApplied:   "BACKEND_APPLIED",
	StateMetadataSwapped:  "METADATA_SWAPPED",
	StateLogCleared:       "LOG_CLEARED",
	StateFailedRolledBack: "FAILED_ROLLED_BACK",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Hooks observe an alteration. After is called once a state is reached;
// an error returned from it stops the alteration on the spot, without any
// cleanup, the way a crash would.
type Hooks struct {
	After func(State) error
}

func (h *Hooks) after(s State) error {
	if h == nil || h.After == nil {
		return nil
	}
	return h.After(s)
}
