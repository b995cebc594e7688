package syncer

// State is a phase of one sync cycle.
//
//	IDLE -> FETCHING -> DRAINED -> RECONCILING -> CURSOR_COMMIT -> IDLE
//
// A failure before DRAINED or during RECONCILING goes straight back to
// IDLE. CURSOR_COMMIT is the only state that persists a cursor.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateDrained
	StateReconciling
	StateCursorCommit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateDrained:
		return "DRAINED"
	case StateReconciling:
		return "RECONCILING"
	case StateCursorCommit:
		return "CURSOR_COMMIT"
	default:
		return "UNKNOWN"
	}
}
