// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Handlers accept both form posts from the HTMX pages and JSON bodies from
// API clients through the same parser.

package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spendwise/internal/core"
)

const maxBodyBytes = 1 << 20

// DateRange is an optional [From, To] filter. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange reads from/to (YYYY-MM-DD) query values in loc. To covers
// the whole named day.
func ParseDateRange(query url.Values, loc *time.Location) (DateRange, error) {
	var dr DateRange
	if v := strings.TrimSpace(query.Get("from")); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return DateRange{}, core.ErrInvalidDate
		}
		dr.From = d
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		d, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return DateRange{}, core.ErrInvalidDate
		}
		dr.To = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return DateRange{}, core.ErrInvalidDate
	}
	return dr, nil
}

// IsZero reports whether neither bound is set.
func (d DateRange) IsZero() bool {
	return d.From.IsZero() && d.To.IsZero()
}

// ParseDateTime combines a YYYY-MM-DD date and an optional HH:MM time in loc.
// An empty date means now.
func ParseDateTime(date, clock string, now time.Time, loc *time.Location) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" {
		return now, nil
	}
	if strings.Contains(date, "T") {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04"} {
			if t, err := time.ParseInLocation(layout, date, loc); err == nil {
				return t, nil
			}
		}
		return time.Time{}, core.ErrInvalidDate
	}
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, core.ErrInvalidDate
	}
	return t, nil
}

// ParseValidUntil reads a budget end. A bare date means the end of that day.
func ParseValidUntil(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, core.ErrInvalidDate
	}
	if strings.Contains(v, "T") {
		return ParseDateTime(v, "", time.Time{}, loc)
	}
	d, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, core.ErrInvalidDate
	}
	return d.AddDate(0, 0, 1).Add(-time.Second), nil
}

// ParseCategory accepts a numeric id or a category name.
func ParseCategory(v string) (int, error) {
	v = strings.TrimSpace(v)
	if id, err := strconv.Atoi(v); err == nil {
		if !core.ValidCategory(id) {
			return 0, core.ErrInvalidCategory
		}
		return id, nil
	}
	c, ok := core.CategoryByName(v)
	if !ok {
		return 0, core.ErrInvalidCategory
	}
	return c.ID, nil
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errors.New("request body too large")
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if p.body[0] == '{' || p.body[0] == '[' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseFormOrFail parses the request form and returns an error response on failure.
// Returns nil on success.
func ParseFormOrFail(r *http.Request) *HTMXResponseBuilder {
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Invalid request format")
	}
	return nil
}
