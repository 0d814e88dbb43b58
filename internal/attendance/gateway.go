package attendance

import (
	"context"
	"fmt"
	"strings"

	"checkin/internal/apperr"
	"checkin/internal/client"
)

// Gateway is the part of the backend the orchestrator needs. *client.Client implements it.
type Gateway interface {
	CheckAttendance(ctx context.Context, regNo string) (client.CheckResponse, error)
	MarkAttendance(ctx context.Context, regNo string) (client.MarkResponse, error)
}

// Refresher is asked to rebuild the aggregate after a successful mark. It must not block.
type Refresher interface {
	RequestRefresh()
}

const (
	statusAttended    = "attended"
	statusNotAttended = "not attended"
	statusSuccess     = "success"
)

func toStatus(regNo string, resp client.CheckResponse) (AttendanceStatus, error) {
	st := AttendanceStatus{
		Registrant: Registrant{
			RegNo:      regNo,
			Name:       resp.Name.String(),
			Year:       resp.Year.String(),
			Department: resp.Department.String(),
		},
		AttendedAt: resp.AttendedAt.String(),
	}
	switch normalizeStatus(resp.Status) {
	case statusAttended:
		st.Attended = true
	case statusNotAttended:
	default:
		return st, apperr.Protocol(fmt.Sprintf("unexpected check status %q", resp.Status), "", nil)
	}
	return st, nil
}

func toMarkResult(resp client.MarkResponse) MarkResult {
	if normalizeStatus(resp.Status) == statusSuccess {
		return MarkResult{Success: true, AttendedAt: resp.AttendedAt.String()}
	}
	return MarkResult{Reason: resp.Message.String()}
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "_", " ")
}
