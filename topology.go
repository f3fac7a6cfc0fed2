package main

import (
	"errors"
	"fmt"
	"log"
	"sort"
)

// errUnsupportedTopology is returned when the response is neither a single
// nor a dual inverter installation. The caller must skip the whole cycle
// rather than publish a half-guessed sensor set.
var errUnsupportedTopology = errors.New("unsupported inverter topology")

// Topology describes which report trees belong to which inverter role for one
// response. It is a plain value threaded into the extractors, never shared
// state, so overlapping fetches cannot contaminate each other.
type Topology struct {
	Dual       bool
	MasterSN   string
	SlaveSN    string
	MasterData map[string]any
	SlaveData  map[string]any
}

// resolveTopology inspects the raw response and decides between a single
// inverter installation (report root under data.quota) and a dual
// master/slave installation (one report root per serial under data.parallel).
//
// For dual installations the master is the inverter whose serial matches the
// configured serial. The vendor gives no ordering guarantee for the parallel
// keys, so positional choices are never used; if neither key matches we fall
// back to sorted order and warn.
func resolveTopology(doc map[string]any, ownSN string) (Topology, error) {
	data := asObject(doc["data"])
	if data == nil {
		return Topology{}, fmt.Errorf("response has no data object")
	}

	parallel, ok := data["parallel"]
	if !ok {
		return Topology{
			MasterSN:   ownSN,
			MasterData: asObject(data["quota"]),
		}, nil
	}

	trees := asObject(parallel)
	if len(trees) != 2 {
		return Topology{}, fmt.Errorf("%w: %d inverters under parallel", errUnsupportedTopology, len(trees))
	}

	sns := make([]string, 0, 2)
	for sn := range trees {
		sns = append(sns, sn)
	}
	sort.Strings(sns)

	master, slave := sns[0], sns[1]
	if slave == ownSN {
		master, slave = slave, master
	}
	if master != ownSN {
		log.Printf("Configured serial %s not found under parallel, assuming %s is master\n", ownSN, master)
	}

	return Topology{
		Dual:       true,
		MasterSN:   master,
		SlaveSN:    slave,
		MasterData: asObject(trees[master]),
		SlaveData:  asObject(trees[slave]),
	}, nil
}
