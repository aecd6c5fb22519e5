package core

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Simulator feeds synthetic check results into a Store. It stands in for a
// real check scheduler so that triggers fire and the log grows.
type Simulator struct {
	store    *Store
	interval time.Duration
	rnd      *rand.Rand
}

func NewSimulator(s *Store, interval time.Duration, seed uint64) *Simulator {
	return &Simulator{
		store:    s,
		interval: interval,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Run ticks until ctx is done. Every tick checks one random host or service.
func (sim *Simulator) Run(ctx context.Context) error {
	if sim.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()

	sim.store.Log(LogClassProgram, "PROGRAM", "simulator started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sim.Step()
		}
	}
}

// Step produces one check result.
func (sim *Simulator) Step() {
	services := sim.store.Services()
	hosts := sim.store.Hosts()
	if len(hosts) == 0 {
		return
	}

	if len(services) > 0 && sim.rnd.IntN(4) != 0 {
		svc := services[sim.rnd.IntN(len(services))]
		state := sim.pick(svc.Status().State, StateUnknown)
		sim.store.ProcessServiceResult(svc, CheckResult{
			State:         state,
			Output:        fmt.Sprintf("%s - %s|time=%.3fs", StateName(true, state), svc.Description, sim.rnd.Float64()),
			Latency:       sim.rnd.Float64() / 10,
			ExecutionTime: sim.rnd.Float64(),
		})
		return
	}

	h := hosts[sim.rnd.IntN(len(hosts))]
	state := sim.pick(h.Status().State, HostDown)
	sim.store.ProcessHostResult(h, CheckResult{
		State:         state,
		Output:        fmt.Sprintf("PING %s - %s", StateName(false, state), h.Address),
		Latency:       sim.rnd.Float64() / 10,
		ExecutionTime: sim.rnd.Float64() / 2,
	})
}

// pick keeps the current state most of the time.
func (sim *Simulator) pick(current, maxState int) int {
	if sim.rnd.IntN(10) < 8 {
		if sim.rnd.IntN(3) == 0 {
			return StateOK
		}
		return current
	}
	return sim.rnd.IntN(maxState + 1)
}
