package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State is the outcome of the most recent deployment attempt.
type State string

const (
	StateNone    State = "none"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// DefaultMessage describes a repository that was never deployed.
const DefaultMessage = "no deployment yet"

// Status is the durable record of deployment history.
type Status struct {
	LastDeploy  *Timestamp `json:"last_deploy"`
	DeployCount int        `json:"deploy_count"`
	LastStatus  State      `json:"last_status"`
	LastMessage string     `json:"last_message"`
}

// Default returns the record used before the first deployment.
func Default() Status {
	return Status{
		LastDeploy:  nil,
		DeployCount: 0,
		LastStatus:  StateNone,
		LastMessage: DefaultMessage,
	}
}

// Timestamp marshals as RFC 3339 and also accepts ISO timestamps without a zone
// offset, which are interpreted in local time.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}
