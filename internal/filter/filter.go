// Package filter encodes and decodes the query parameters of the duplicates
// list, and validates them before a search is sent.
package filter

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire format of date range parameters.
const DateLayout = "2006-01-02"

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Duplicates holds the filters of the duplicates list view.
type Duplicates struct {
	Algorithms  []string   `json:"algorithm,omitempty"`
	Similarity  *int       `json:"similarity,omitempty"`
	EntityTypes []int64    `json:"entity_type,omitempty"`
	OrgUnits    []int64    `json:"org_unit,omitempty"`
	Form        *int64     `json:"form,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Ignored     *bool      `json:"ignored,omitempty"`
	Merged      *bool      `json:"merged,omitempty"`
	Fields      []string   `json:"fields,omitempty"`
	Search      string     `json:"search,omitempty"`

	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Order string `json:"order,omitempty"`
}

// Problem describes one invalid filter parameter.
type Problem struct {
	Param   string `json:"param"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a filter. A search must not
// be sent while it is non-empty.
type ValidationError struct {
	Problems []Problem `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Param+": "+p.Message)
	}
	return "filter: invalid parameters: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(param, msg string) {
	e.Problems = append(e.Problems, Problem{Param: param, Message: msg})
}

// Validate checks the filter for out-of-range and conflicting values.
func (d Duplicates) Validate() error {
	verr := &ValidationError{}
	if d.Similarity != nil && (*d.Similarity < 0 || *d.Similarity > 100) {
		verr.add("similarity", "must be between 0 and 100")
	}
	if d.StartDate != nil && d.EndDate != nil && d.StartDate.After(*d.EndDate) {
		verr.add("start_date", "must not be after end_date")
	}
	if d.Ignored != nil && d.Merged != nil && *d.Ignored && *d.Merged {
		verr.add("ignored", "cannot be combined with merged")
	}
	if d.Page < 0 {
		verr.add("page", "must be positive")
	}
	if d.Limit < 0 || d.Limit > maxLimit {
		verr.add("limit", "must be between 1 and "+strconv.Itoa(maxLimit))
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// Encode renders the filter as backend query parameters. Empty filters are
// left out; pagination defaults to page 1.
func (d Duplicates) Encode() url.Values {
	v := url.Values{}
	setList(v, "algorithm", d.Algorithms)
	if d.Similarity != nil {
		v.Set("similarity", strconv.Itoa(*d.Similarity))
	}
	setIDs(v, "entity_type", d.EntityTypes)
	setIDs(v, "org_unit", d.OrgUnits)
	if d.Form != nil {
		v.Set("form", strconv.FormatInt(*d.Form, 10))
	}
	if d.StartDate != nil {
		v.Set("start_date", d.StartDate.Format(DateLayout))
	}
	if d.EndDate != nil {
		v.Set("end_date", d.EndDate.Format(DateLayout))
	}
	if d.Ignored != nil {
		v.Set("ignored", strconv.FormatBool(*d.Ignored))
	}
	if d.Merged != nil {
		v.Set("merged", strconv.FormatBool(*d.Merged))
	}
	setList(v, "fields", d.Fields)
	if d.Search != "" {
		v.Set("search", d.Search)
	}

	page := d.Page
	if page <= 0 {
		page = 1
	}
	limit := d.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	if d.Order != "" {
		v.Set("order", d.Order)
	}
	return v
}

// Decode parses query parameters into a filter. Malformed values are
// reported together as a ValidationError; the result is also validated.
func Decode(v url.Values) (Duplicates, error) {
	var d Duplicates
	verr := &ValidationError{}

	d.Algorithms = getList(v, "algorithm")
	if s := v.Get("similarity"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			verr.add("similarity", "must be an integer")
		} else {
			d.Similarity = &n
		}
	}
	d.EntityTypes = getIDs(v, "entity_type", verr)
	d.OrgUnits = getIDs(v, "org_unit", verr)
	if s := v.Get("form"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			verr.add("form", "must be an integer id")
		} else {
			d.Form = &n
		}
	}
	d.StartDate = getDate(v, "start_date", verr)
	d.EndDate = getDate(v, "end_date", verr)
	d.Ignored = getBool(v, "ignored", verr)
	d.Merged = getBool(v, "merged", verr)
	d.Fields = getList(v, "fields")
	d.Search = v.Get("search")
	d.Page = getInt(v, "page", verr)
	d.Limit = getInt(v, "limit", verr)
	d.Order = v.Get("order")

	if len(verr.Problems) > 0 {
		return d, verr
	}
	return d, d.Validate()
}

func setList(v url.Values, key string, items []string) {
	if len(items) > 0 {
		v.Set(key, strings.Join(items, ","))
	}
}

func setIDs(v url.Values, key string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	v.Set(key, strings.Join(parts, ","))
}

func getList(v url.Values, key string) []string {
	raw := v.Get(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIDs(v url.Values, key string, verr *ValidationError) []int64 {
	var out []int64
	for _, p := range getList(v, key) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			verr.add(key, "invalid id "+strconv.Quote(p))
			continue
		}
		out = append(out, id)
	}
	return out
}

func getDate(v url.Values, key string, verr *ValidationError) *time.Time {
	s := v.Get(key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		verr.add(key, "must be a date formatted as YYYY-MM-DD")
		return nil
	}
	return &t
}

func getBool(v url.Values, key string, verr *ValidationError) *bool {
	s := v.Get(key)
	if s == "" {
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		verr.add(key, "must be true or false")
		return nil
	}
	return &b
}

func getInt(v url.Values, key string, verr *ValidationError) int {
	s := v.Get(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		verr.add(key, "must be an integer")
		return 0
	}
	return n
}

// AsValidation extracts a ValidationError from err's chain.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
