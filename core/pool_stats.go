package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/coroserve/core/pools"
)

// Stats are live server counters.
type Stats struct {
	Connections int64               `json:"connections"`
	Requests    uint64              `json:"requests"`
	Buffers     pools.BytePoolStats `json:"buffers"`
}

// JSON returns the stats as indented JSON.
func (s Stats) JSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// String returns the stats as human-readable text.
func (s Stats) String() string {
	hitRate := 0.0
	if s.Buffers.Gets > 0 {
		hitRate = 1 - float64(s.Buffers.Misses)/float64(s.Buffers.Gets)
	}
	return fmt.Sprintf(`Server Statistics
=================

Open connections: %d
Requests served:  %d

Read buffers:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%
`,
		s.Connections, s.Requests,
		s.Buffers.Gets, s.Buffers.Puts, max(hitRate, 0)*100,
	)
}
