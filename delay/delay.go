// Copyright 2026 The blackcat Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package delay reduces decoded per-event TDC records into averaged
// round-trip delay reports.
//
// Two averagers share the same primitive: CycleAverager keys its output
// on channel rollovers of a DLM event stream, BatchAverager on a fixed
// number of input lines of a USB block stream.
package delay // import "github.com/blackcat-daq/blackcat/delay"
