// Package report implements the swarm's statistics aggregate: a small
// commutative monoid of successes, three error sections, and a free-form
// statistics section, with merge/subtract/scale and (de)serialization to
// the wire shape used by the bus.
package report

import (
	"fmt"
	"sort"
	"time"
)

// Section names, also used as map keys during (de)serialization. Order
// here is the order Report.String renders them in.
const (
	SectionSuccess          = "success"
	SectionRequestErrors    = "request errors"
	SectionMonitoredErrors  = "monitored errors"
	SectionOtherErrors      = "other errors"
	SectionStatistics       = "statistics"
)

// SuccessEntry holds either a compact (count, total time) pair or, in a
// detailed Report, the individual call durations. A Report is one or the
// other for its whole lifetime (set by New's detailed argument);
// mixing the two within a single Report is a programming error.
type SuccessEntry struct {
	Count     int
	Time      time.Duration
	Durations []time.Duration
}

// AvgDuration returns the average call duration, or 0 if Count is 0.
func (e SuccessEntry) AvgDuration() time.Duration {
	if e.Count == 0 {
		return 0
	}
	return e.Time / time.Duration(e.Count)
}

func (e SuccessEntry) totalTime() time.Duration {
	if e.Time != 0 || e.Count != 0 {
		return e.Time
	}
	var total time.Duration
	for _, d := range e.Durations {
		total += d
	}
	return total
}

func (e SuccessEntry) totalCount() int {
	if len(e.Durations) > 0 {
		return len(e.Durations)
	}
	return e.Count
}

// Report is a four-section (five with Detailed) statistics aggregate. It
// is a plain value type: concurrent writers must wrap it in an
// Accumulator (see accumulator.go).
type Report struct {
	Detailed bool

	Success          map[string]SuccessEntry
	RequestErrors    map[string]int
	MonitoredErrors  map[string]int
	OtherErrors      map[string]int
	Statistics       map[string]int
}

// New returns an empty Report. detailed selects whether AddSuccess
// accumulates individual durations (true) or just count/total-time
// (false); see SuccessEntry.
func New(detailed bool) *Report {
	return &Report{
		Detailed:        detailed,
		Success:         make(map[string]SuccessEntry),
		RequestErrors:   make(map[string]int),
		MonitoredErrors: make(map[string]int),
		OtherErrors:     make(map[string]int),
		Statistics:      make(map[string]int),
	}
}

// AddSuccess records one successful call of the given duration under name.
func (r *Report) AddSuccess(name string, d time.Duration) {
	e := r.Success[name]
	if r.Detailed {
		e.Durations = append(e.Durations, d)
	} else {
		e.Count++
		e.Time += d
	}
	r.Success[name] = e
}

// Error-kind routing, per spec.md §4.1: unknown kinds and "success" are a
// silent no-op, preventing accidental success counting through this path.
const (
	KindRequestError   = SectionRequestErrors
	KindMonitoredError = SectionMonitoredErrors
	KindOtherError     = SectionOtherErrors
)

// AddError increments the named counter within the given error kind
// (KindRequestError, KindMonitoredError, or KindOtherError). Any other
// kind, including "success", is a silent no-op.
func (r *Report) AddError(name, kind string) {
	switch kind {
	case KindRequestError:
		r.RequestErrors[name]++
	case KindMonitoredError:
		r.MonitoredErrors[name]++
	case KindOtherError:
		r.OtherErrors[name]++
	}
}

// AddStatistics adds value to the named user-defined counter.
func (r *Report) AddStatistics(name string, value int) {
	r.Statistics[name] += value
}

func mergeSuccess(a, b map[string]SuccessEntry) map[string]SuccessEntry {
	out := make(map[string]SuccessEntry, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		e := out[k]
		e.Count += v.Count
		e.Time += v.Time
		e.Durations = append(append([]time.Duration{}, e.Durations...), v.Durations...)
		out[k] = e
	}
	return out
}

func mergeInt(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] += v
	}
	return out
}

// Add returns a new Report that is the commutative-monoid sum of r and
// other: success counts/times add (or duration lists concatenate, for a
// detailed Report), error and statistics counters add. The result is
// detailed iff either operand is.
func (r *Report) Add(other *Report) *Report {
	if other == nil {
		return r.clone()
	}
	out := New(r.Detailed || other.Detailed)
	out.Success = mergeSuccess(r.Success, other.Success)
	out.RequestErrors = mergeInt(r.RequestErrors, other.RequestErrors)
	out.MonitoredErrors = mergeInt(r.MonitoredErrors, other.MonitoredErrors)
	out.OtherErrors = mergeInt(r.OtherErrors, other.OtherErrors)
	out.Statistics = mergeInt(r.Statistics, other.Statistics)
	return out
}

// Merge is an alias for Add, since merge is the Report monoid's "+".
func (r *Report) Merge(other *Report) *Report {
	return r.Add(other)
}

func subInt(a, b map[string]int) map[string]int {
	out := make(map[string]int, len(a)+len(b))
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		out[k] = a[k] - b[k]
	}
	return out
}

// Subtract returns a component-wise difference r - other, used
// diagnostically; entries may go negative. For the success section,
// durations present in other are removed (by value) from r's list;
// compact counts/times subtract directly.
func (r *Report) Subtract(other *Report) *Report {
	if other == nil {
		return r.clone()
	}
	out := New(r.Detailed || other.Detailed)
	for k, v := range r.Success {
		sub := other.Success[k]
		e := SuccessEntry{
			Count: v.Count - sub.Count,
			Time:  v.Time - sub.Time,
		}
		if len(v.Durations) > 0 || len(sub.Durations) > 0 {
			remove := make(map[time.Duration]int, len(sub.Durations))
			for _, d := range sub.Durations {
				remove[d]++
			}
			for _, d := range v.Durations {
				if remove[d] > 0 {
					remove[d]--
					continue
				}
				e.Durations = append(e.Durations, d)
			}
		}
		out.Success[k] = e
	}
	for k, v := range other.Success {
		if _, ok := r.Success[k]; ok {
			continue
		}
		out.Success[k] = SuccessEntry{Count: -v.Count, Time: -v.Time}
	}
	out.RequestErrors = subInt(r.RequestErrors, other.RequestErrors)
	out.MonitoredErrors = subInt(r.MonitoredErrors, other.MonitoredErrors)
	out.OtherErrors = subInt(r.OtherErrors, other.OtherErrors)
	out.Statistics = subInt(r.Statistics, other.Statistics)
	return out
}

// Scale returns a new Report with every count/time/duration multiplied by
// k. Compact counts round to the nearest integer; detailed durations
// scale individually.
func (r *Report) Scale(k float64) *Report {
	out := New(r.Detailed)
	for name, e := range r.Success {
		se := SuccessEntry{}
		if r.Detailed {
			se.Durations = make([]time.Duration, len(e.Durations))
			for i, d := range e.Durations {
				se.Durations[i] = time.Duration(float64(d) * k)
			}
		} else {
			se.Count = int(float64(e.Count)*k + 0.5)
			se.Time = time.Duration(float64(e.Time) * k)
		}
		out.Success[name] = se
	}
	scaleInt := func(m map[string]int) map[string]int {
		out := make(map[string]int, len(m))
		for k2, v := range m {
			out[k2] = int(float64(v) * k)
		}
		return out
	}
	out.RequestErrors = scaleInt(r.RequestErrors)
	out.MonitoredErrors = scaleInt(r.MonitoredErrors)
	out.OtherErrors = scaleInt(r.OtherErrors)
	out.Statistics = scaleInt(r.Statistics)
	return out
}

func (r *Report) clone() *Report {
	return r.Add(New(r.Detailed))
}

// IsEmpty reports whether the Report has no entries in any section.
func (r *Report) IsEmpty() bool {
	return len(r.Success) == 0 && len(r.RequestErrors) == 0 &&
		len(r.MonitoredErrors) == 0 && len(r.OtherErrors) == 0 && len(r.Statistics) == 0
}

// ToMap serializes the Report to the wire shape shared with the bus:
// section name -> per-name payload.
func (r *Report) ToMap() map[string]any {
	success := make(map[string]any, len(r.Success))
	for k, v := range r.Success {
		if r.Detailed {
			ms := make([]float64, len(v.Durations))
			for i, d := range v.Durations {
				ms[i] = d.Seconds()
			}
			success[k] = ms
		} else {
			success[k] = map[string]any{"count": v.Count, "time": v.Time.Seconds()}
		}
	}
	toAny := func(m map[string]int) map[string]any {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return map[string]any{
		SectionSuccess:         success,
		SectionRequestErrors:   toAny(r.RequestErrors),
		SectionMonitoredErrors: toAny(r.MonitoredErrors),
		SectionOtherErrors:     toAny(r.OtherErrors),
		SectionStatistics:      toAny(r.Statistics),
	}
}

// FromMap deserializes a Report from the wire shape produced by ToMap.
// Missing sections are treated as empty; unknown sections are ignored.
// The detailed/compact shape of the success section (a list of floats vs.
// a {count,time} object) is detected per-entry so a Report reconstructed
// from either variant round-trips.
func FromMap(data map[string]any) (*Report, error) {
	r := New(false)
	if data == nil {
		return r, nil
	}
	if raw, ok := data[SectionSuccess]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("report: success section is not an object")
		}
		for k, v := range m {
			entry, detailed, err := decodeSuccessEntry(v)
			if err != nil {
				return nil, fmt.Errorf("report: success entry %q: %w", k, err)
			}
			if detailed {
				r.Detailed = true
			}
			r.Success[k] = entry
		}
	}
	if err := decodeIntSection(data, SectionRequestErrors, r.RequestErrors); err != nil {
		return nil, err
	}
	if err := decodeIntSection(data, SectionMonitoredErrors, r.MonitoredErrors); err != nil {
		return nil, err
	}
	if err := decodeIntSection(data, SectionOtherErrors, r.OtherErrors); err != nil {
		return nil, err
	}
	if err := decodeIntSection(data, SectionStatistics, r.Statistics); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeSuccessEntry(v any) (SuccessEntry, bool, error) {
	switch val := v.(type) {
	case []any:
		durs := make([]time.Duration, len(val))
		for i, x := range val {
			f, ok := toFloat(x)
			if !ok {
				return SuccessEntry{}, false, fmt.Errorf("duration element is not numeric")
			}
			durs[i] = time.Duration(f * float64(time.Second))
		}
		return SuccessEntry{Durations: durs}, true, nil
	case map[string]any:
		count, _ := toFloat(val["count"])
		secs, _ := toFloat(val["time"])
		return SuccessEntry{Count: int(count), Time: time.Duration(secs * float64(time.Second))}, false, nil
	default:
		return SuccessEntry{}, false, fmt.Errorf("unsupported success entry shape %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func decodeIntSection(data map[string]any, section string, into map[string]int) error {
	raw, ok := data[section]
	if !ok || raw == nil {
		return nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("report: section %q is not an object", section)
	}
	for k, v := range m {
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("report: section %q key %q is not numeric", section, k)
		}
		into[k] = int(f)
	}
	return nil
}

// String renders the Report as human-readable text, one section per
// line group in the stable order success, request errors, monitored
// errors, other errors, statistics, matching the rendering the swarm's
// original Python implementation produced.
func (r *Report) String() string {
	var out string
	out += "\nsuccess:\n"
	names := sortedKeys(r.Success)
	for _, name := range names {
		e := r.Success[name]
		count := e.totalCount()
		var avgMs float64
		if count > 0 {
			avgMs = float64(e.totalTime()) / float64(count) / float64(time.Millisecond)
		}
		out += fmt.Sprintf("%45s: %6d (avg %.3fms)\n", name, count, avgMs)
	}
	for _, section := range []struct {
		title string
		m     map[string]int
	}{
		{SectionRequestErrors, r.RequestErrors},
		{SectionMonitoredErrors, r.MonitoredErrors},
		{SectionOtherErrors, r.OtherErrors},
		{SectionStatistics, r.Statistics},
	} {
		out += fmt.Sprintf("\n%s:\n", section.title)
		for _, name := range sortedKeys(section.m) {
			out += fmt.Sprintf("%35s: %6d\n", name, section.m[name])
		}
	}
	return out + "\n"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
