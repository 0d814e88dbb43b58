// Package stats reads the backend's summary endpoints into one display model and
// keeps the last good copy around when a refresh fails.
package stats

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"checkin/internal/apperr"
)

const (
	unknown      = "Unknown"
	notAvailable = "N/A"
)

// Entry is one recent check-in.
type Entry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RegNo     string `json:"reg_no"`
	Method    string `json:"method"`
	Timestamp string `json:"timestamp"`
}

// YearCount is one row of the per-year summary.
type YearCount struct {
	Year     string `json:"year"`
	Attended int    `json:"attended"`
}

// Aggregate is rebuilt wholesale on every fetch and never patched in place.
type Aggregate struct {
	Total     int         `json:"total"`
	Scanned   int         `json:"scanned"`
	Manual    int         `json:"manual"`
	ByYear    []YearCount `json:"by_year,omitempty"`
	Recent    []Entry     `json:"recent"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Parse maps any of the known response shapes onto an Aggregate:
//
//	{"summary": [{"year": 1, "attended": 10}]}
//	{"total": 12, "scanned": 7, "manual": 5, "recent_checkins": [...]}
//	{"page": 1, "per_page": 20, "total": 12, "total_pages": 1, "students": [...]}
//
// Missing numbers become 0 and missing text "Unknown" or "N/A". Only a body that is
// not a JSON object (or a bare summary list) is rejected.
func Parse(raw []byte) (Aggregate, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Aggregate{}, apperr.Protocol("malformed stats response", string(raw), err)
	}

	var obj map[string]any
	switch v := doc.(type) {
	case map[string]any:
		obj = v
	case []any:
		obj = map[string]any{"summary": v}
	default:
		return Aggregate{}, apperr.Protocol("unexpected stats response shape", string(raw), nil)
	}

	agg := Aggregate{Recent: []Entry{}}
	sum := 0
	for _, item := range asList(obj["summary"]) {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		yc := YearCount{Year: text(row, notAvailable, "year"), Attended: number(row, "attended")}
		sum += yc.Attended
		agg.ByYear = append(agg.ByYear, yc)
	}

	if _, ok := obj["total"]; ok {
		agg.Total = number(obj, "total")
	} else {
		agg.Total = sum
	}
	agg.Scanned = number(obj, "scanned")
	agg.Manual = number(obj, "manual")

	list := asList(obj["recent_checkins"])
	if list == nil {
		list = asList(obj["students"])
	}
	for i, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		agg.Recent = append(agg.Recent, Entry{
			ID:        text(row, strconv.Itoa(i+1), "id"),
			Name:      text(row, unknown, "name"),
			RegNo:     text(row, notAvailable, "reg_no", "registrant_id", "regno", "id_number", "idNumber"),
			Method:    method(text(row, "", "method", "type")),
			Timestamp: text(row, notAvailable, "timestamp", "attended_at", "checked_in_at", "time"),
		})
	}
	return agg, nil
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

// text returns the first non-empty value among keys rendered as a string.
func text(row map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		switch v := row[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return fallback
}

func number(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil && !math.IsNaN(f) {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

func method(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scanned", "scan", "barcode", "qr":
		return "Scanned"
	case "manual":
		return "Manual"
	default:
		return unknown
	}
}
