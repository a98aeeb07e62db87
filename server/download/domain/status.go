package domain

type Status string

const (
	StatusDraft      Status = "draft"
	StatusStarted    Status = "started"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
	StatusMissing    Status = "missing"
	StatusTerminated Status = "terminated"
)

// NotAvailable fills file_path and size when there is no file.
const NotAvailable = "N/A"

var Statuses = []Status{
	StatusDraft,
	StatusStarted,
	StatusFailed,
	StatusCompleted,
	StatusArchived,
	StatusMissing,
	StatusTerminated,
}

var transitions = map[Status][]Status{
	StatusDraft:      {StatusStarted},
	StatusStarted:    {StatusCompleted, StatusFailed, StatusTerminated},
	StatusCompleted:  {StatusMissing, StatusArchived},
	StatusMissing:    {StatusArchived},
	StatusTerminated: {StatusTerminated},
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether a download in s may move to next.
// Re-terminating is allowed so that a cancel and the worker noticing its
// own revocation do not step on each other.
func (s Status) CanTransition(next Status) bool {
	for _, v := range transitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// HasFile reports whether file_path is meaningful in this status.
func (s Status) HasFile() bool {
	return s == StatusCompleted || s == StatusMissing
}

func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusStarted:
		return "Started"
	case StatusFailed:
		return "Failed"
	case StatusCompleted:
		return "Completed"
	case StatusArchived:
		return "Archived"
	case StatusMissing:
		return "Missing"
	case StatusTerminated:
		return "Terminated"
	default:
		return string(s)
	}
}
