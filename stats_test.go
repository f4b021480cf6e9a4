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
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsEmpty(t *testing.T) {
	m := newIntMap(0)
	s := m.Stats()
	require.Equal(t, ProbeStats{Len: 0, Capacity: 32}, s)
}

func TestStatsContiguousRun(t *testing.T) {
	// Identity hash, keys 0..3 occupy slots 0..3 of a capacity-32 table.
	// The runs starting at those slots have lengths 4, 3, 2, 1.
	m := New[int, int](0, identityHash, Equal[int])
	for i := 0; i < 4; i++ {
		m.Put(i, i)
	}

	s := m.Stats()
	require.Equal(t, 4, s.Len)
	require.Equal(t, 32, s.Capacity)
	require.Equal(t, 1, s.MinRun)
	require.Equal(t, 4, s.MaxRun)
	require.InDelta(t, 2.5, s.MeanRun, 1e-9)
	// E[x^2] = (16+9+4+1)/4 = 7.5, so stddev = sqrt(7.5 - 2.5^2).
	require.InDelta(t, math.Sqrt(1.25), s.StddevRun, 1e-9)
}

func TestStatsWraparound(t *testing.T) {
	// Keys 30, 31, 32 land in slots 30, 31, 0 of a capacity-32 table: a
	// single run of 3 that wraps the end of the array.
	m := New[int, int](0, identityHash, Equal[int])
	for _, k := range []int{30, 31, 32} {
		m.Put(k, k)
	}

	s := m.Stats()
	require.Equal(t, 3, s.Len)
	require.Equal(t, 1, s.MinRun)
	require.Equal(t, 3, s.MaxRun)
	require.InDelta(t, 2.0, s.MeanRun, 1e-9)
}

func TestStatsBounds(t *testing.T) {
	m := newIntMap(0)
	for i := 0; i < 1000; i++ {
		m.Put(i, i)
	}

	s := m.Stats()
	require.Equal(t, 1000, s.Len)
	require.Equal(t, int(m.capacity), s.Capacity)
	require.GreaterOrEqual(t, s.MinRun, 1)
	require.LessOrEqual(t, s.MinRun, s.MaxRun)
	require.GreaterOrEqual(t, s.MeanRun, float64(s.MinRun))
	require.LessOrEqual(t, s.MeanRun, float64(s.MaxRun))
	require.GreaterOrEqual(t, s.StddevRun, 0.0)
}

func TestReportStats(t *testing.T) {
	m := newIntMap(0)
	m.Put(1, 1)

	var buf bytes.Buffer
	m.ReportStats(&buf, "testmap")
	out := buf.String()
	require.Contains(t, out, "testmap: ")
	require.Contains(t, out, "len")
	require.Contains(t, out, "capacity")
	require.Equal(t, uint8('\n'), out[len(out)-1])
}
