// Package profiler is a minimal call-site sampler: record the time a
// named section took, and read back aggregated samples per site. Not a
// full CPU profiler, just enough to back the admin surface's CSV
// export.
package profiler

import (
	"sort"
	"sync"
	"time"
)

type site struct {
	file string
	line int
	fn   string
}

type aggregate struct {
	samples     uint64
	usTotal     uint64
	usExclusive uint64
}

var (
	mu   sync.Mutex
	data = map[site]*aggregate{}
)

// Sample is one accumulated call-site measurement, as returned by
// Snapshot.
type Sample struct {
	File        string
	Line        int
	Func        string
	Samples     uint64
	USTotal     uint64
	USExclusive uint64
}

// Record accounts one measured call: total is the section's own wall
// time, exclusive is total minus time spent in nested Record calls the
// caller already subtracted.
func Record(file string, line int, fn string, total, exclusive time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	key := site{file: file, line: line, fn: fn}
	a, ok := data[key]
	if !ok {
		a = &aggregate{}
		data[key] = a
	}
	a.samples++
	a.usTotal += uint64(total.Microseconds())
	a.usExclusive += uint64(exclusive.Microseconds())
}

// Track starts timing a call site; call the returned func when the
// section ends. Matches the PROFILE_ME call-then-defer idiom it is
// grounded on.
func Track(file string, line int, fn string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		Record(file, line, fn, elapsed, elapsed)
	}
}

// Snapshot returns every accumulated sample, sorted by file then line
// then function so repeated exports are stable.
func Snapshot() []Sample {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Sample, 0, len(data))
	for k, a := range data {
		out = append(out, Sample{
			File: k.file, Line: k.line, Func: k.fn,
			Samples: a.samples, USTotal: a.usTotal, USExclusive: a.usExclusive,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Func < out[j].Func
	})
	return out
}

// Reset clears all accumulated samples. Used by tests and by the admin
// surface if an operator wants a clean window.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	data = map[site]*aggregate{}
}
