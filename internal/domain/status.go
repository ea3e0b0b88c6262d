package domain

// SessionState is the tracking session's lifecycle state.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionTaskSelected SessionState = "task_selected"
	SessionSampling     SessionState = "sampling"
)

// Status is the answer to a status query from a UI collaborator.
type Status struct {
	IsSampling    bool                `json:"isSampling"`
	State         SessionState        `json:"state"`
	ActiveTaskID  string              `json:"activeTaskId,omitempty"`
	ActiveSource  SourceKind          `json:"activeSource"`
	LatestReading *Reading            `json:"latestReading,omitempty"`
	Connections   map[SourceKind]bool `json:"connectionState"`
}

// BadgeColor is the semantic color of the icon badge.
type BadgeColor string

const (
	BadgeGood  BadgeColor = "good"
	BadgeWarn  BadgeColor = "warn"
	BadgeAlert BadgeColor = "alert"
)

// Hex returns the CSS color used for the badge background.
func (c BadgeColor) Hex() string {
	switch c {
	case BadgeGood:
		return "#10b981"
	case BadgeWarn:
		return "#f59e0b"
	default:
		return "#ef4444"
	}
}

// Badge is the icon badge state derived from a reading.
type Badge struct {
	Text  string     `json:"text"`
	Color BadgeColor `json:"color"`
	Hex   string     `json:"hex"`
}

// Alert is a desktop notification raised on distraction.
type Alert struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	TaskID string `json:"taskId,omitempty"`
	Score  int    `json:"score"`
}
