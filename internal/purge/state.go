package purge

// State is a step of the purge loop
type State int

const (
	StateInit State = iota
	StateCheckingQuota
	StateHibernating
	StateFetching
	StateDeleting
	StateBackoff
	StateDone
)

var stateNames = [...]string{
	StateInit:          "init",
	StateCheckingQuota: "checking_quota",
	StateHibernating:   "hibernating",
	StateFetching:      "fetching",
	StateDeleting:      "deleting",
	StateBackoff:       "backoff",
	StateDone:          "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
