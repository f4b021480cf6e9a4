// Copyright 2024 The probemap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probemap

import (
	"fmt"
	"io"
	"math"
)

// ProbeStats summarizes the distribution of occupied-run lengths in a Map.
// For each occupied slot, the run length is the number of contiguous
// occupied slots starting there, scanning forward with wraparound. Long
// runs mean long probe sequences; a well-distributed hash function at the
// load factors this table maintains produces mostly short runs. Bad hash
// functions are (obviously) very bad for performance.
type ProbeStats struct {
	Len       int
	Capacity  int
	MinRun    int
	MaxRun    int
	MeanRun   float64
	StddevRun float64
}

// String renders the stats as a single summary line.
func (s ProbeStats) String() string {
	return fmt.Sprintf("len %8d, capacity %8d, min %3d, max %3d, mean %6.3f, stddev %6.3f",
		s.Len, s.Capacity, s.MinRun, s.MaxRun, s.MeanRun, s.StddevRun)
}

// Stats measures the occupied-run length starting at every occupied slot
// and returns the distribution. It is purely observational and does not
// modify the map. O(capacity + sum of run lengths).
func (m *Map[K, V]) Stats() ProbeStats {
	s := ProbeStats{
		Len:      m.used,
		Capacity: int(m.capacity),
	}
	if m.used == 0 {
		return s
	}

	mask := uintptr(m.capacity - 1)
	// A run never exceeds the number of occupied slots, so used is a safe
	// initial minimum.
	s.MinRun = m.used
	var sum, sumSq float64
	for i := uintptr(0); i < uintptr(m.capacity); i++ {
		if !m.slots.At(i).used {
			continue
		}

		run := 0
		for m.slots.At((i + uintptr(run)) & mask).used {
			run++
		}

		if run < s.MinRun {
			s.MinRun = run
		}
		if run > s.MaxRun {
			s.MaxRun = run
		}
		sum += float64(run)
		sumSq += float64(run) * float64(run)
	}

	mean := sum / float64(m.used)
	s.MeanRun = mean
	s.StddevRun = math.Sqrt(sumSq/float64(m.used) - mean*mean)
	return s
}

// ReportStats writes the Stats summary line for the map to w, prefixed with
// name. It exists for callers that want the classic one-line diagnostic
// dump; use Stats directly for structured access.
func (m *Map[K, V]) ReportStats(w io.Writer, name string) {
	fmt.Fprintf(w, "%s: %s\n", name, m.Stats())
}
