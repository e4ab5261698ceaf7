package escalate

// Level is one step of an escalation policy.
type Level struct {
	Level             int      `json:"level"`
	DelayMinutes      int      `json:"delay_minutes"`
	Channels          []string `json:"channels"`
	StopOnAcknowledge bool     `json:"stop_on_acknowledge"`
}

// Policy is an ordered schedule of delayed re-notifications for an
// unresolved alert. Levels fire in order; each level's delay counts from
// the previous level (or from alert creation for level 0).
type Policy struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Levels []Level `json:"levels"`
}
