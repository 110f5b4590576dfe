package rearview

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path.
func getVarInt(base string, name string) *expvar.Int {
	fullname := fmt.Sprintf("rearview.%s.%s", base, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// Get an *expvar.Map with the given path.
func getVarMap(base string, name string) *expvar.Map {
	fullname := fmt.Sprintf("rearview.%s.%s", base, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}

// pipelineMetrics counts per-query outcomes.
type pipelineMetrics struct {
	// Count of queries handled.
	query *expvar.Int
	// Count of requests dropped as unparseable.
	malformed *expvar.Int
	// Count of failed upstream exchanges.
	upstreamErr *expvar.Int
	// Hits by power name.
	hit *expvar.Map
	// Synthesized responses by rcode.
	response *expvar.Map
}

func newPipelineMetrics() *pipelineMetrics {
	return &pipelineMetrics{
		query:       getVarInt("pipeline", "query"),
		malformed:   getVarInt("pipeline", "malformed"),
		upstreamErr: getVarInt("pipeline", "upstream-error"),
		hit:         getVarMap("pipeline", "power-hit"),
		response:    getVarMap("pipeline", "response"),
	}
}
