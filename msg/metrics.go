package msg

import (
	"bytes"
	"encoding/json"

	"github.com/openhearth/hearth/errors"
)

// metricMapTag marks the serialized envelope so the loader can tell a
// metric map apart from a plain options object.
const metricMapTag = "Map"

// MetricMap is an insertion-ordered mapping from metric key to Metric.
// It serializes as a tagged envelope:
//
//	{"__type":"Map","value":[["temp",{"val":21.5,"unit":"°C","ts":...}], ...]}
//
// so the map is reconstructible on load with its order intact.
type MetricMap struct {
	keys   []string
	values map[string]Metric
}

// NewMetricMap returns an empty metric map.
func NewMetricMap() *MetricMap {
	return &MetricMap{values: make(map[string]Metric)}
}

// Set inserts or replaces the metric stored under key.
func (mm *MetricMap) Set(key string, m Metric) {
	if mm.values == nil {
		mm.values = make(map[string]Metric)
	}
	if _, ok := mm.values[key]; !ok {
		mm.keys = append(mm.keys, key)
	}
	mm.values[key] = m
}

// Get returns the metric stored under key.
func (mm *MetricMap) Get(key string) (Metric, bool) {
	if mm == nil || mm.values == nil {
		return Metric{}, false
	}
	m, ok := mm.values[key]
	return m, ok
}

// Delete removes key. Missing keys are a no-op.
func (mm *MetricMap) Delete(key string) {
	if mm == nil || mm.values == nil {
		return
	}
	if _, ok := mm.values[key]; !ok {
		return
	}
	delete(mm.values, key)
	for i, k := range mm.keys {
		if k == key {
			mm.keys = append(mm.keys[:i], mm.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (mm *MetricMap) Keys() []string {
	if mm == nil {
		return nil
	}
	return append([]string(nil), mm.keys...)
}

// Len returns the number of stored metrics.
func (mm *MetricMap) Len() int {
	if mm == nil {
		return 0
	}
	return len(mm.keys)
}

// Clone returns a deep copy.
func (mm *MetricMap) Clone() *MetricMap {
	if mm == nil {
		return nil
	}
	c := NewMetricMap()
	for _, k := range mm.keys {
		c.Set(k, mm.values[k])
	}
	return c
}

type metricEnvelope struct {
	Type  string            `json:"__type"`
	Value []json.RawMessage `json:"value"`
}

// MarshalJSON encodes the tagged Map envelope.
func (mm MetricMap) MarshalJSON() ([]byte, error) {
	pairs := make([]json.RawMessage, 0, len(mm.keys))
	for _, k := range mm.keys {
		pair, err := json.Marshal([2]interface{}{k, mm.values[k]})
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return json.Marshal(metricEnvelope{Type: metricMapTag, Value: pairs})
}

// UnmarshalJSON decodes the tagged Map envelope. A plain JSON object is
// also accepted for producer convenience; its key order follows the
// document order of the object.
func (mm *MetricMap) UnmarshalJSON(data []byte) error {
	mm.keys = nil
	mm.values = make(map[string]Metric)

	var env metricEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Type == metricMapTag {
		for _, raw := range env.Value {
			var pair [2]json.RawMessage
			if err := json.Unmarshal(raw, &pair); err != nil {
				return errors.Wrap(err, "malformed metric map pair")
			}
			var key string
			if err := json.Unmarshal(pair[0], &key); err != nil {
				return errors.Wrap(err, "malformed metric map key")
			}
			var m Metric
			if err := json.Unmarshal(pair[1], &m); err != nil {
				return errors.Wrapf(err, "malformed metric %q", key)
			}
			mm.Set(key, m)
		}
		return nil
	}

	// Fallback: plain object in document order.
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "malformed metric map")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("metric map must be an object or Map envelope")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "malformed metric map")
		}
		key, _ := keyTok.(string)
		var m Metric
		if err := dec.Decode(&m); err != nil {
			return errors.Wrapf(err, "malformed metric %q", key)
		}
		mm.Set(key, m)
	}
	return nil
}
