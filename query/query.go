package query

import (
	"sort"
	"strings"

	"github.com/openhearth/hearth/errors"
	"github.com/openhearth/hearth/msg"
	"github.com/openhearth/hearth/render"
)

// SortKey orders results by one field. Dir is "asc" (default) or
// "desc". Missing values sort last regardless of direction.
type SortKey struct {
	Field string `json:"field"`
	Dir   string `json:"dir,omitempty"`
}

// Page selects one page of results. Index is 1-based; Size <= 0
// disables paging.
type Page struct {
	Size  int `json:"size"`
	Index int `json:"index"`
}

// Spec is a decoded query request.
type Spec struct {
	Where *Where    `json:"where,omitempty"`
	Sort  []SortKey `json:"sort,omitempty"`
	Page  *Page     `json:"page,omitempty"`
}

// Result carries the matched total, page count, and the rendered page.
type Result struct {
	Total int            `json:"total"`
	Pages int            `json:"pages"`
	Items []*msg.Message `json:"items"`
}

var sortFields = map[string]bool{
	"ref": true, "level": true, "kind": true,
	"origin.type": true, "lifecycle.state": true, "details.location": true,
}

func validSortField(field string) bool {
	if sortFields[field] {
		return true
	}
	if rest, ok := strings.CutPrefix(field, "timing."); ok {
		return validTimingField(rest)
	}
	return false
}

// Run executes the query over a snapshot of the canonical list.
// Deleted and expired messages stay hidden unless the state filter
// names them explicitly. Only the returned page is rendered.
func (s *Spec) Run(list []*msg.Message, r *render.Renderer) (*Result, error) {
	if err := s.Where.validate(); err != nil {
		return nil, err
	}
	for _, key := range s.Sort {
		if !validSortField(key.Field) {
			return nil, errors.Wrapf(ErrBadFilter, "sort: unknown field %s", key.Field)
		}
		if key.Dir != "" && key.Dir != "asc" && key.Dir != "desc" {
			return nil, errors.Wrapf(ErrBadFilter, "sort: bad dir %q", key.Dir)
		}
	}

	var matched []*msg.Message
	for _, m := range list {
		if m.Lifecycle.State.QuasiDeleted() && m.Lifecycle.State != msg.StateClosed {
			if !s.Where.requestsState(m.Lifecycle.State) {
				continue
			}
		}
		if s.Where.match(m) {
			matched = append(matched, m)
		}
	}

	s.sortMessages(matched)

	total := len(matched)
	pages := 1
	page := matched
	if s.Page != nil && s.Page.Size > 0 {
		size := s.Page.Size
		pages = (total + size - 1) / size
		if pages == 0 {
			pages = 1
		}
		index := s.Page.Index
		if index < 1 {
			index = 1
		}
		start := (index - 1) * size
		if start >= total {
			page = nil
		} else {
			end := start + size
			if end > total {
				end = total
			}
			page = matched[start:end]
		}
	}

	items := make([]*msg.Message, len(page))
	for i, m := range page {
		items[i] = r.View(m)
	}
	return &Result{Total: total, Pages: pages, Items: items}, nil
}

func (s *Spec) sortMessages(list []*msg.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		for _, key := range s.Sort {
			av, aok := sortValue(a, key.Field)
			bv, bok := sortValue(b, key.Field)
			if aok != bok {
				return aok // present before missing, both directions
			}
			if !aok {
				continue
			}
			cmp := compareValues(av, bv)
			if cmp == 0 {
				continue
			}
			if key.Dir == "desc" {
				return cmp > 0
			}
			return cmp < 0
		}
		return a.Ref < b.Ref
	})
}

type sortable struct {
	str   string
	num   int64
	isNum bool
}

func sortValue(m *msg.Message, field string) (sortable, bool) {
	switch field {
	case "ref":
		return sortable{str: m.Ref}, true
	case "level":
		return sortable{num: int64(m.Level), isNum: true}, true
	case "kind":
		return sortable{str: string(m.Kind)}, true
	case "origin.type":
		return sortable{str: string(m.Origin.Type)}, true
	case "lifecycle.state":
		return sortable{str: string(m.Lifecycle.State)}, true
	case "details.location":
		if m.Details == nil || m.Details.Location == "" {
			return sortable{}, false
		}
		return sortable{str: m.Details.Location}, true
	}
	if rest, ok := strings.CutPrefix(field, "timing."); ok {
		v := timingValue(m, rest)
		if v == nil {
			return sortable{}, false
		}
		return sortable{num: *v, isNum: true}, true
	}
	return sortable{}, false
}

func compareValues(a, b sortable) int {
	if a.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
	return strings.Compare(a.str, b.str)
}
