package article

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of an article.
type Status string

const (
	StatusIngested   Status = "ingested"
	StatusFiltered   Status = "filtered"
	StatusDistilled  Status = "distilled"
	StatusVisualized Status = "visualized"
	StatusIgnored    Status = "ignored"
)

// ErrUnknownStatus is returned when a string does not name a known status.
var ErrUnknownStatus = errors.New("unknown article status")

// Statuses lists every status in pipeline order, ignored last.
func Statuses() []Status {
	return []Status{StatusIngested, StatusFiltered, StatusDistilled, StatusVisualized, StatusIgnored}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIngested, StatusFiltered, StatusDistilled, StatusVisualized, StatusIgnored:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// transitions holds the edges the pipeline may take. Self-edges belong to
// annotation-only stages (verification, upload, critique).
var transitions = map[Status][]Status{
	StatusIngested:   {StatusFiltered, StatusIgnored},
	StatusFiltered:   {StatusDistilled, StatusIgnored},
	StatusDistilled:  {StatusDistilled, StatusVisualized},
	StatusVisualized: {StatusVisualized},
}

// CanTransition reports whether the pipeline may move an article from one
// status to another. Ignored is absorbing.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsFeedEligible reports whether articles in this status are published.
func (s Status) IsFeedEligible() bool {
	return s == StatusDistilled || s == StatusVisualized
}
