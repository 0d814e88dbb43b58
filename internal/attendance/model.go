package attendance

import (
	"fmt"
	"strings"
)

// Method is how a registrant identifier was entered.
type Method string

const (
	MethodManual  Method = "Manual"
	MethodScanned Method = "Scanned"
)

// ParseMethod accepts the method names used by stations, case-insensitively.
// Unknown values default to manual entry.
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scanned", "scan", "scanner", "barcode":
		return MethodScanned
	default:
		return MethodManual
	}
}

// State is a step of one check-in invocation.
type State string

const (
	StateIdle            State = "idle"
	StateChecking        State = "checking"
	StateMarking         State = "marking"
	StateAlreadyAttended State = "already_attended"
	StateMarked          State = "marked"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateAlreadyAttended || s == StateMarked || s == StateFailed
}

// Registrant holds the details reported by the check call.
type Registrant struct {
	RegNo      string `json:"reg_no"`
	Name       string `json:"name"`
	Year       string `json:"year"`
	Department string `json:"department"`
}

// AttendanceStatus is the answer of the check call: either already attended
// (with the prior timestamp) or not yet attended.
type AttendanceStatus struct {
	Attended   bool
	Registrant Registrant
	AttendedAt string
}

// MarkResult is the answer of the mark call.
type MarkResult struct {
	Success    bool
	AttendedAt string
	Reason     string
}

// Outcome is the terminal result of one check-in invocation.
type Outcome struct {
	State      State      `json:"state"`
	Method     Method     `json:"method"`
	Registrant Registrant `json:"registrant"`
	AttendedAt string     `json:"attended_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Err        error      `json:"-"`
}

// OK reports whether the invocation ended on a success path.
func (o Outcome) OK() bool {
	return o.State == StateAlreadyAttended || o.State == StateMarked
}

// Title is the heading shown to the operator.
func (o Outcome) Title() string {
	switch o.State {
	case StateAlreadyAttended:
		return "Already Checked In"
	case StateMarked:
		return "Check-in Successful"
	default:
		return "Error"
	}
}

// Message is the body shown to the operator.
func (o Outcome) Message() string {
	switch o.State {
	case StateAlreadyAttended:
		return fmt.Sprintf("%s\n\nAlready checked in at %s", o.details(), orDefault(o.AttendedAt, "earlier"))
	case StateMarked:
		return fmt.Sprintf("%s\nTime: %s", o.details(), orDefault(o.AttendedAt, "Just now"))
	default:
		return orDefault(o.Reason, "Failed to process check-in")
	}
}

func (o Outcome) details() string {
	r := o.Registrant
	return fmt.Sprintf("Name: %s\nReg No: %s\nYear: %s\nDepartment: %s",
		orDefault(r.Name, "Student"), r.RegNo, orDefault(r.Year, "N/A"), orDefault(r.Department, "N/A"))
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
