// Package query filters, sorts, and pages the canonical message list.
// Filter shapes follow the admin wire format: enum fields accept a
// scalar or {in}/{notIn}, ranges accept {min,max}, list fields accept
// {any}/{all}. Mutually exclusive shapes fail with ErrBadFilter, which
// the command layer maps to BAD_REQUEST.
package query

import (
	"encoding/json"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
)

// ErrBadFilter marks a structurally invalid filter, such as combining
// in with notIn.
var ErrBadFilter = errors.New("bad filter")

// EnumFilter matches a string-valued enum field. Decodes from a scalar
// or an {in, notIn} object.
type EnumFilter struct {
	Eq    string
	In    []string
	NotIn []string

	scalar bool
}

func (f *EnumFilter) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		f.Eq = scalar
		f.scalar = true
		return nil
	}
	var obj struct {
		In    []string `json:"in"`
		NotIn []string `json:"notIn"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrBadFilter, err.Error())
	}
	f.In = obj.In
	f.NotIn = obj.NotIn
	return nil
}

func (f *EnumFilter) validate(field string) error {
	if f.In != nil && f.NotIn != nil {
		return errors.Wrapf(ErrBadFilter, "%s: in and notIn are mutually exclusive", field)
	}
	return nil
}

func (f *EnumFilter) match(v string) bool {
	if f.scalar {
		return v == f.Eq
	}
	if f.In != nil {
		return contains(f.In, v)
	}
	if f.NotIn != nil {
		return !contains(f.NotIn, v)
	}
	return true
}

// requests reports whether the filter explicitly names v through the
// scalar form or an in list. notIn never counts as a request.
func (f *EnumFilter) requests(v string) bool {
	if f == nil {
		return false
	}
	if f.scalar && f.Eq == v {
		return true
	}
	return contains(f.In, v)
}

// LevelFilter matches the numeric level. Decodes from a scalar or an
// {in, notIn, min, max} object; min/max are inclusive and combine with
// everything except in+notIn together.
type LevelFilter struct {
	Eq    *int
	In    []int
	NotIn []int
	Min   *int
	Max   *int
}

func (f *LevelFilter) UnmarshalJSON(data []byte) error {
	var scalar int
	if err := json.Unmarshal(data, &scalar); err == nil {
		f.Eq = &scalar
		return nil
	}
	var obj struct {
		In    []int `json:"in"`
		NotIn []int `json:"notIn"`
		Min   *int  `json:"min"`
		Max   *int  `json:"max"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrBadFilter, err.Error())
	}
	f.In, f.NotIn, f.Min, f.Max = obj.In, obj.NotIn, obj.Min, obj.Max
	return nil
}

func (f *LevelFilter) validate() error {
	if f.In != nil && f.NotIn != nil {
		return errors.Wrap(ErrBadFilter, "level: in and notIn are mutually exclusive")
	}
	return nil
}

func (f *LevelFilter) match(v int) bool {
	if f.Eq != nil && v != *f.Eq {
		return false
	}
	if f.In != nil && !containsInt(f.In, v) {
		return false
	}
	if f.NotIn != nil && containsInt(f.NotIn, v) {
		return false
	}
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	return true
}

// TimeFilter matches an optional millisecond timestamp. A range implies
// existence: a missing value fails unless orMissing relaxes it.
type TimeFilter struct {
	Eq        *int64
	Min       *int64
	Max       *int64
	OrMissing bool
}

func (f *TimeFilter) UnmarshalJSON(data []byte) error {
	var scalar int64
	if err := json.Unmarshal(data, &scalar); err == nil {
		f.Eq = &scalar
		return nil
	}
	var obj struct {
		Min       *int64 `json:"min"`
		Max       *int64 `json:"max"`
		OrMissing bool   `json:"orMissing"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrBadFilter, err.Error())
	}
	f.Min, f.Max, f.OrMissing = obj.Min, obj.Max, obj.OrMissing
	return nil
}

func (f *TimeFilter) match(v *int64) bool {
	if v == nil {
		return f.OrMissing
	}
	if f.Eq != nil && *v != *f.Eq {
		return false
	}
	if f.Min != nil && *v < *f.Min {
		return false
	}
	if f.Max != nil && *v > *f.Max {
		return false
	}
	return true
}

// ListFilter matches string lists (audience tags, dependencies).
// Decodes from a scalar, an array (any-of), or an {any, all} object.
// An empty list on the message always fails: list filters imply
// existence.
type ListFilter struct {
	Any []string
	All []string

	anySet bool
	allSet bool
}

func (f *ListFilter) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		f.Any = []string{scalar}
		f.anySet = true
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		f.Any = arr
		f.anySet = true
		return nil
	}
	var obj struct {
		Any []string `json:"any"`
		All []string `json:"all"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrBadFilter, err.Error())
	}
	f.Any, f.All = obj.Any, obj.All
	f.anySet = obj.Any != nil
	f.allSet = obj.All != nil
	return nil
}

func (f *ListFilter) validate(field string) error {
	if f.anySet && f.allSet {
		return errors.Wrapf(ErrBadFilter, "%s: any and all are mutually exclusive", field)
	}
	return nil
}

func (f *ListFilter) match(values []string) bool {
	if len(values) == 0 {
		return false
	}
	if f.allSet {
		for _, want := range f.All {
			if !contains(values, want) {
				return false
			}
		}
		return true
	}
	for _, want := range f.Any {
		if contains(values, want) {
			return true
		}
	}
	return false
}

// LocationFilter matches details.location. Decodes from a scalar, an
// array, or an {in} object; implies a non-empty location.
type LocationFilter struct {
	In []string
}

func (f *LocationFilter) UnmarshalJSON(data []byte) error {
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		f.In = []string{scalar}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		f.In = arr
		return nil
	}
	var obj struct {
		In []string `json:"in"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(ErrBadFilter, err.Error())
	}
	f.In = obj.In
	return nil
}

func (f *LocationFilter) match(location string) bool {
	if location == "" {
		return false
	}
	return contains(f.In, location)
}

// OriginWhere nests origin field filters.
type OriginWhere struct {
	Type *EnumFilter `json:"type,omitempty"`
}

// LifecycleWhere nests lifecycle field filters.
type LifecycleWhere struct {
	State *EnumFilter `json:"state,omitempty"`
}

// DetailsWhere nests details field filters.
type DetailsWhere struct {
	Location *LocationFilter `json:"location,omitempty"`
}

// ChannelsWhere matches messages routable to a channel, using the same
// predicate the dispatcher applies.
type ChannelsWhere struct {
	RouteTo *string `json:"routeTo,omitempty"`
}

// AudienceWhere nests audience field filters.
type AudienceWhere struct {
	Tags     *ListFilter    `json:"tags,omitempty"`
	Channels *ChannelsWhere `json:"channels,omitempty"`
}

// Where is the filter tree of a query.
type Where struct {
	Kind         *EnumFilter            `json:"kind,omitempty"`
	Level        *LevelFilter           `json:"level,omitempty"`
	Origin       *OriginWhere           `json:"origin,omitempty"`
	Lifecycle    *LifecycleWhere        `json:"lifecycle,omitempty"`
	Timing       map[string]*TimeFilter `json:"timing,omitempty"`
	Details      *DetailsWhere          `json:"details,omitempty"`
	Audience     *AudienceWhere         `json:"audience,omitempty"`
	Dependencies *ListFilter            `json:"dependencies,omitempty"`
}

func (w *Where) validate() error {
	if w == nil {
		return nil
	}
	if w.Kind != nil {
		if err := w.Kind.validate("kind"); err != nil {
			return err
		}
	}
	if w.Level != nil {
		if err := w.Level.validate(); err != nil {
			return err
		}
	}
	if w.Origin != nil && w.Origin.Type != nil {
		if err := w.Origin.Type.validate("origin.type"); err != nil {
			return err
		}
	}
	if w.Lifecycle != nil && w.Lifecycle.State != nil {
		if err := w.Lifecycle.State.validate("lifecycle.state"); err != nil {
			return err
		}
	}
	for field := range w.Timing {
		if !validTimingField(field) {
			return errors.Wrapf(ErrBadFilter, "timing.%s: unknown field", field)
		}
	}
	if w.Audience != nil && w.Audience.Tags != nil {
		if err := w.Audience.Tags.validate("audience.tags"); err != nil {
			return err
		}
	}
	if w.Dependencies != nil {
		if err := w.Dependencies.validate("dependencies"); err != nil {
			return err
		}
	}
	return nil
}

func (w *Where) match(m *msg.Message) bool {
	if w == nil {
		return true
	}
	if w.Kind != nil && !w.Kind.match(string(m.Kind)) {
		return false
	}
	if w.Level != nil && !w.Level.match(int(m.Level)) {
		return false
	}
	if w.Origin != nil && w.Origin.Type != nil && !w.Origin.Type.match(string(m.Origin.Type)) {
		return false
	}
	if w.Lifecycle != nil && w.Lifecycle.State != nil && !w.Lifecycle.State.match(string(m.Lifecycle.State)) {
		return false
	}
	for field, f := range w.Timing {
		if !f.match(timingValue(m, field)) {
			return false
		}
	}
	if w.Details != nil && w.Details.Location != nil {
		location := ""
		if m.Details != nil {
			location = m.Details.Location
		}
		if !w.Details.Location.match(location) {
			return false
		}
	}
	if w.Audience != nil {
		if w.Audience.Tags != nil {
			var tags []string
			if m.Audience != nil {
				tags = m.Audience.Tags
			}
			if !w.Audience.Tags.match(tags) {
				return false
			}
		}
		if w.Audience.Channels != nil && w.Audience.Channels.RouteTo != nil {
			if !msg.RouteToChannel(m, *w.Audience.Channels.RouteTo) {
				return false
			}
		}
	}
	if w.Dependencies != nil && !w.Dependencies.match(m.Dependencies) {
		return false
	}
	return true
}

// requestsState reports whether the filter explicitly asks for a
// quasi-deleted state, lifting the hidden-by-default rule.
func (w *Where) requestsState(s msg.State) bool {
	if w == nil || w.Lifecycle == nil {
		return false
	}
	return w.Lifecycle.State.requests(string(s))
}

var timingFields = map[string]bool{
	"createdAt": true, "updatedAt": true, "notifyAt": true,
	"remindEvery": true, "cooldown": true, "timeBudget": true,
	"expiresAt": true, "dueAt": true, "startAt": true, "endAt": true,
}

func validTimingField(field string) bool {
	return timingFields[field]
}

func timingValue(m *msg.Message, field string) *int64 {
	t := &m.Timing
	switch field {
	case "createdAt":
		return &t.CreatedAt
	case "updatedAt":
		return t.UpdatedAt
	case "notifyAt":
		return t.NotifyAt
	case "remindEvery":
		return t.RemindEvery
	case "cooldown":
		return t.Cooldown
	case "timeBudget":
		return t.TimeBudget
	case "expiresAt":
		return t.ExpiresAt
	case "dueAt":
		return t.DueAt
	case "startAt":
		return t.StartAt
	case "endAt":
		return t.EndAt
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
