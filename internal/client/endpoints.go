package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"checkin/internal/apperr"
)

const (
	PathCheckAttendance = "/check_attendance"
	PathMarkAttendance  = "/mark_attendance"
	PathStats           = "/stats"
	PathRecentStudents  = "/recent_students"
)

// Text decodes a JSON string, number or null into a string. Backend revisions
// disagree on whether year is a number or a label.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = Text(n.String())
		return nil
	}
	return fmt.Errorf("client: cannot decode %s as text", b)
}

func (t Text) String() string { return string(t) }

// RegistrantRequest is the body of both attendance calls.
type RegistrantRequest struct {
	RegNo string `json:"reg_no"`
}

// CheckResponse is the body of POST /check_attendance.
type CheckResponse struct {
	Status     string `json:"status"`
	Name       Text   `json:"name"`
	Year       Text   `json:"year"`
	Department Text   `json:"department"`
	AttendedAt Text   `json:"attended_at"`
}

// MarkResponse is the body of POST /mark_attendance. Some backend revisions omit
// the registrant details, so only the status and timestamp are relied upon.
type MarkResponse struct {
	Status     string `json:"status"`
	Message    Text   `json:"message"`
	AttendedAt Text   `json:"attended_at"`
}

// CheckAttendance asks whether regNo has already checked in.
func (c *Client) CheckAttendance(ctx context.Context, regNo string) (CheckResponse, error) {
	var out CheckResponse
	raw, err := c.Do(ctx, http.MethodPost, PathCheckAttendance, RegistrantRequest{RegNo: regNo})
	if err != nil {
		return out, err
	}
	return out, decodeInto(raw, &out)
}

// MarkAttendance records regNo as checked in.
func (c *Client) MarkAttendance(ctx context.Context, regNo string) (MarkResponse, error) {
	var out MarkResponse
	raw, err := c.Do(ctx, http.MethodPost, PathMarkAttendance, RegistrantRequest{RegNo: regNo})
	if err != nil {
		return out, err
	}
	return out, decodeInto(raw, &out)
}

// Stats fetches the summary endpoint. Its shape varies between backend revisions,
// so it is returned undecoded.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, PathStats, nil)
}

// RecentStudents fetches one page of the recent check-in listing.
func (c *Client) RecentStudents(ctx context.Context, page, perPage int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	return c.Do(ctx, http.MethodGet, PathRecentStudents+"?"+q.Encode(), nil)
}

func decodeInto(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Protocol("unexpected response shape", string(raw), err)
	}
	return nil
}
