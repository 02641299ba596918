package tree

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recorder collects the order in which callbacks ran.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// res is a disposable test resource.
type res struct {
	name     string
	rec      *recorder
	err      error
	panicVal any
	before   func()
	disposed int
}

func newRes(rec *recorder, name string) *res {
	return &res{name: name, rec: rec}
}

func (r *res) String() string { return r.name }

func (r *res) BeforeDispose() {
	if r.rec != nil {
		r.rec.add("before:" + r.name)
	}
	if r.before != nil {
		r.before()
	}
}

func (r *res) Dispose() error {
	r.disposed++
	if r.rec != nil {
		r.rec.add(r.name)
	}
	if r.panicVal != nil {
		panic(r.panicVal)
	}
	return r.err
}

// executed filters out before-phase entries.
func executed(events []string) []string {
	var out []string
	for _, e := range events {
		if len(e) > 7 && e[:7] == "before:" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}
