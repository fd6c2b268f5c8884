// Package render expands message templates into display views.
//
// Rendering is pure: it never mutates the canonical message and runs only
// on the read path. Title, text and icon may embed template expressions:
//
//	{{m.<metricKey>}}        metric value with unit
//	{{m.<metricKey>.val}}    raw value
//	{{m.<metricKey>.unit}}   unit only
//	{{m.<metricKey>.ts}}     measurement timestamp (ms)
//	{{t.<timingField>}}      raw timing value (ms)
//
// An expression may carry a filter after a pipe:
//
//	{{t.createdAt|datetime}}         locale-formatted timestamp
//	{{m.temp.ts|durationSince}}      humanized age ("5m", "2h")
//	{{t.notifyAt|bool:YES/NO}}       presence test
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openhearth/hearth/msg"
)

var exprRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Locale carries the host locale used for datetime formatting.
type Locale struct {
	TZ             *time.Location
	DateTimeLayout string
}

// DefaultLocale renders in local time with an ISO-like layout.
func DefaultLocale() *Locale {
	return &Locale{TZ: time.Local, DateTimeLayout: "2006-01-02 15:04"}
}

// Renderer expands templates against a message. Now is injectable for
// deterministic tests.
type Renderer struct {
	Locale *Locale
	Now    func() int64
}

// New creates a renderer for the given locale (nil means DefaultLocale).
func New(loc *Locale) *Renderer {
	if loc == nil {
		loc = DefaultLocale()
	}
	if loc.TZ == nil {
		loc.TZ = time.Local
	}
	if loc.DateTimeLayout == "" {
		loc.DateTimeLayout = "2006-01-02 15:04"
	}
	return &Renderer{Locale: loc, Now: msg.Now}
}

// Render produces the display view for a message.
func (r *Renderer) Render(m *msg.Message) msg.Display {
	d := msg.Display{
		Icon:  m.Icon,
		Title: m.Title,
		Text:  m.Text,
	}
	expanded := false
	expand := func(s string) string {
		return exprRe.ReplaceAllStringFunc(s, func(match string) string {
			expanded = true
			expr := exprRe.FindStringSubmatch(match)[1]
			return r.eval(m, expr)
		})
	}
	d.Title = expand(d.Title)
	d.Text = expand(d.Text)
	if expanded {
		d.RenderedDataTs = r.Now()
	}
	return d
}

// View returns a caller-owned clone with Display and ActionsInactive
// populated. This is what the store hands out for view reads.
func (r *Renderer) View(m *msg.Message) *msg.Message {
	c := m.Clone()
	d := r.Render(m)
	c.Display = &d
	c.ActionsInactive = InactiveActions(m)
	return c
}

// InactiveActions filters the message's action allowlist down to the
// entries that make no sense in the current state (e.g. snooze while
// already snoozed).
func InactiveActions(m *msg.Message) []msg.ActionType {
	var inactive []msg.ActionType
	for _, a := range m.Actions {
		if target, ok := actionTargetState(a.Type); ok && target == m.Lifecycle.State {
			inactive = append(inactive, a.Type)
		}
	}
	return inactive
}

func actionTargetState(a msg.ActionType) (msg.State, bool) {
	switch a {
	case msg.ActionAck:
		return msg.StateAcked, true
	case msg.ActionClose:
		return msg.StateClosed, true
	case msg.ActionDelete:
		return msg.StateDeleted, true
	case msg.ActionSnooze:
		return msg.StateSnoozed, true
	case msg.ActionOpen:
		return msg.StateOpen, true
	}
	return "", false
}

// eval resolves one template expression; unknown references render as "".
func (r *Renderer) eval(m *msg.Message, expr string) string {
	path := expr
	filter := ""
	if idx := strings.IndexByte(expr, '|'); idx >= 0 {
		path = strings.TrimSpace(expr[:idx])
		filter = strings.TrimSpace(expr[idx+1:])
	}

	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return ""
	}
	switch parts[0] {
	case "m":
		return r.applyFilter(r.resolveMetric(m, parts[1:]), filter)
	case "t":
		return r.applyFilter(r.resolveTiming(m, parts[1]), filter)
	}
	return ""
}

func (r *Renderer) resolveMetric(m *msg.Message, path []string) interface{} {
	metric, ok := m.Metrics.Get(path[0])
	if !ok {
		return nil
	}
	if len(path) == 1 {
		if metric.Unit != "" {
			return fmt.Sprintf("%s %s", formatNumber(metric.Val), metric.Unit)
		}
		return formatNumber(metric.Val)
	}
	switch path[1] {
	case "val":
		return metric.Val
	case "unit":
		return metric.Unit
	case "ts":
		return metric.TS
	}
	return nil
}

func (r *Renderer) resolveTiming(m *msg.Message, field string) interface{} {
	t := m.Timing
	switch field {
	case "createdAt":
		return t.CreatedAt
	case "updatedAt":
		return derefOrNil(t.UpdatedAt)
	case "notifyAt":
		return derefOrNil(t.NotifyAt)
	case "remindEvery":
		return derefOrNil(t.RemindEvery)
	case "cooldown":
		return derefOrNil(t.Cooldown)
	case "timeBudget":
		return derefOrNil(t.TimeBudget)
	case "expiresAt":
		return derefOrNil(t.ExpiresAt)
	case "dueAt":
		return derefOrNil(t.DueAt)
	case "startAt":
		return derefOrNil(t.StartAt)
	case "endAt":
		return derefOrNil(t.EndAt)
	}
	return nil
}

func derefOrNil(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (r *Renderer) applyFilter(v interface{}, filter string) string {
	switch {
	case filter == "":
		return plain(v)
	case filter == "datetime":
		ms, ok := asMillis(v)
		if !ok {
			return ""
		}
		return time.UnixMilli(ms).In(r.Locale.TZ).Format(r.Locale.DateTimeLayout)
	case filter == "durationSince":
		ms, ok := asMillis(v)
		if !ok {
			return ""
		}
		return humanizeDuration(time.Duration(r.Now()-ms) * time.Millisecond)
	case strings.HasPrefix(filter, "bool:"):
		yes, no := "true", "false"
		if spec := filter[len("bool:"):]; spec != "" {
			if idx := strings.IndexByte(spec, '/'); idx >= 0 {
				yes, no = spec[:idx], spec[idx+1:]
			} else {
				yes = spec
			}
		}
		if truthy(v) {
			return yes
		}
		return no
	}
	return plain(v)
}

func plain(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return formatNumber(t)
	}
	return fmt.Sprintf("%v", v)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func asMillis(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	}
	return 0, false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case int64:
		return t != 0
	case float64:
		return t != 0
	case bool:
		return t
	}
	return true
}

// humanizeDuration renders a compact age like "45s", "5m" or "2h".
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
