// Package scenario builds disposal trees from YAML descriptions.
//
//	nodes:
//	  - name: server
//	  - name: conn
//	    parent: server
//	    fail: cancel
//	  - name: pool
//	    parent: server
//	    late: [worker]
//	dispose: [server]
//
// Nodes are registered in file order. fail makes the node's Dispose return an
// error, a wrapped context.Canceled, or panic. late names children the node
// registers under itself from its before-dispose hook.
package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/wippyai/disposetree/errors"
	"github.com/wippyai/disposetree/tree"
)

// Failure modes a node can be configured with.
const (
	FailNone   = ""
	FailError  = "error"
	FailCancel = "cancel"
	FailPanic  = "panic"
)

// NodeSpec describes one node of a scenario.
type NodeSpec struct {
	Name   string   `mapstructure:"name"`
	Parent string   `mapstructure:"parent"`
	Fail   string   `mapstructure:"fail"`
	Late   []string `mapstructure:"late"`
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Nodes   []NodeSpec `mapstructure:"nodes"`
	Dispose []string   `mapstructure:"dispose"`
}

// Load reads a scenario file. The format follows the file extension.
func Load(path string) (*Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Cause(err).
			Detail("reading scenario %s", path).
			Build()
	}

	var s Scenario
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Cause(err).
			Detail("decoding scenario %s", path).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names, parents, failure modes and dispose targets.
func (s *Scenario) Validate() error {
	seen := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.Name == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("node %d has no name", i))
		}
		if seen[n.Name] {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("node %q is declared twice", n.Name))
		}
		if n.Parent != "" && !seen[n.Parent] {
			return errors.NotFound(errors.PhaseConfig, "parent", n.Parent)
		}
		switch n.Fail {
		case FailNone, FailError, FailCancel, FailPanic:
		default:
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("node %q has unknown fail mode %q", n.Name, n.Fail))
		}
		seen[n.Name] = true
	}
	for _, n := range s.Nodes {
		for _, l := range n.Late {
			if seen[l] {
				return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("late child %q of %q collides with a node", l, n.Name))
			}
			seen[l] = true
		}
	}
	for _, d := range s.Dispose {
		if !seen[d] {
			return errors.NotFound(errors.PhaseConfig, "dispose target", d)
		}
	}
	return nil
}

// Journal records callback order across a scenario run.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Reset clears the journal.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}

// Node is a scenario resource registered in a tree.
type Node struct {
	name    string
	fail    string
	late    []string
	tree    *tree.Tree
	journal *Journal
	nodes   *Nodes
}

func (n *Node) String() string { return n.name }

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// BeforeDispose records the hook and registers late children.
func (n *Node) BeforeDispose() {
	n.journal.add("before %s", n.name)
	for _, name := range n.late {
		child := n.nodes.newNode(NodeSpec{Name: name})
		if err := n.tree.Register(n, child); err != nil {
			n.journal.add("register %s failed: %v", name, err)
			continue
		}
		n.journal.add("register %s under %s", name, n.name)
	}
}

// Dispose records the teardown and fails as configured.
func (n *Node) Dispose() error {
	n.journal.add("dispose %s", n.name)
	switch n.fail {
	case FailError:
		return fmt.Errorf("%s failed", n.name)
	case FailCancel:
		return fmt.Errorf("%s: %w", n.name, context.Canceled)
	case FailPanic:
		panic(n.name + " panicked")
	}
	return nil
}

// Nodes indexes the nodes created for a scenario by name.
type Nodes struct {
	mu      sync.Mutex
	byName  map[string]*Node
	tree    *tree.Tree
	journal *Journal
}

func (ns *Nodes) newNode(spec NodeSpec) *Node {
	n := &Node{
		name:    spec.Name,
		fail:    spec.Fail,
		late:    spec.Late,
		tree:    ns.tree,
		journal: ns.journal,
		nodes:   ns,
	}
	ns.mu.Lock()
	ns.byName[spec.Name] = n
	ns.mu.Unlock()
	return n
}

// Get returns the node named name.
func (ns *Nodes) Get(name string) (*Node, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	n, ok := ns.byName[name]
	return n, ok
}

// Add registers a new plain node under parent, or as a root when parent is
// nil.
func (ns *Nodes) Add(parent *Node, name string) (*Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseRegister, "node name must not be empty")
	}
	if _, ok := ns.Get(name); ok {
		return nil, errors.InvalidInput(errors.PhaseRegister, fmt.Sprintf("node %q already exists", name))
	}
	n := ns.newNode(NodeSpec{Name: name})
	var p any
	if parent != nil {
		p = parent
	}
	if err := ns.tree.Register(p, n); err != nil {
		ns.mu.Lock()
		delete(ns.byName, name)
		ns.mu.Unlock()
		return nil, err
	}
	return n, nil
}

// Build registers every node of s in t.
func (s *Scenario) Build(t *tree.Tree, j *Journal) (*Nodes, error) {
	ns := &Nodes{byName: make(map[string]*Node), tree: t, journal: j}
	for _, spec := range s.Nodes {
		n := ns.newNode(spec)
		var parent any
		if spec.Parent != "" {
			p, ok := ns.Get(spec.Parent)
			if !ok {
				return nil, errors.NotFound(errors.PhaseConfig, "parent", spec.Parent)
			}
			parent = p
		}
		if err := t.Register(parent, n); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// Result is the outcome of disposing one target.
type Result struct {
	Target string
	Err    error
}

// Run disposes every target of s in order.
func (s *Scenario) Run(ctx context.Context, t *tree.Tree, ns *Nodes) []Result {
	results := make([]Result, 0, len(s.Dispose))
	for _, name := range s.Dispose {
		n, ok := ns.Get(name)
		if !ok {
			results = append(results, Result{Target: name, Err: errors.NotFound(errors.PhaseDispose, "node", name)})
			continue
		}
		results = append(results, Result{Target: name, Err: t.DisposeContext(ctx, n)})
	}
	return results
}
