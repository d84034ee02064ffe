// Package pipeline runs a declarative stage graph: sequential scheduling,
// fan-out groups, skip propagation and an always-run finalizer region.
package pipeline

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/buildseal/buildseal/core/domain"
)

// Handler executes one stage and reports the artifacts it stored.
type Handler func(ctx context.Context) ([]domain.ArtifactRef, error)

// Stage declares one node of the graph. Stages sharing a Group start
// together once every member's needs have succeeded and the group is
// awaited as a whole. Finalizers have no needs and no group: they run
// sequentially after the main region settles, whatever its outcome.
type Stage struct {
	Name      string
	Needs     []string
	Group     string
	Finalizer bool
	Run       Handler
}

// Runner executes a validated stage graph.
type Runner struct {
	stages     []Stage
	main       []*Stage
	finalizers []*Stage
	groups     map[string][]*Stage
}

// NewRunner validates the graph: unique names, known needs, no needs on or
// into finalizers, no needs within a group, and an acyclic main region.
func NewRunner(stages []Stage) (*Runner, error) {
	r := &Runner{
		stages: stages,
		groups: map[string][]*Stage{},
	}
	names := mapset.NewSet[string]()
	finalizers := mapset.NewSet[string]()
	for i := range r.stages {
		s := &r.stages[i]
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %s has no handler", s.Name)
		}
		if !names.Add(s.Name) {
			return nil, fmt.Errorf("duplicate stage %s", s.Name)
		}
		if s.Finalizer {
			if len(s.Needs) > 0 || s.Group != "" {
				return nil, fmt.Errorf("finalizer %s cannot have needs or a group", s.Name)
			}
			finalizers.Add(s.Name)
			r.finalizers = append(r.finalizers, s)
			continue
		}
		r.main = append(r.main, s)
		if s.Group != "" {
			r.groups[s.Group] = append(r.groups[s.Group], s)
		}
	}

	byName := make(map[string]*Stage, len(r.main))
	for _, s := range r.main {
		byName[s.Name] = s
	}
	for _, s := range r.main {
		for _, need := range s.Needs {
			if finalizers.Contains(need) {
				return nil, fmt.Errorf("stage %s needs finalizer %s", s.Name, need)
			}
			dep, ok := byName[need]
			if !ok {
				return nil, fmt.Errorf("stage %s needs unknown stage %s", s.Name, need)
			}
			if s.Group != "" && dep.Group == s.Group {
				return nil, fmt.Errorf("stage %s needs %s from its own group", s.Name, need)
			}
		}
	}

	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}
	return r, nil
}

// checkAcyclic runs a Kahn topological sort over the main region.
func (r *Runner) checkAcyclic() error {
	inDegree := make(map[string]int, len(r.main))
	dependents := make(map[string][]string, len(r.main))
	for _, s := range r.main {
		inDegree[s.Name] += 0
		for _, need := range s.Needs {
			inDegree[s.Name]++
			dependents[need] = append(dependents[need], s.Name)
		}
	}

	var queue []string
	for _, s := range r.main {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	sorted := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted++
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if sorted != len(r.main) {
		return fmt.Errorf("stage graph has a cycle")
	}
	return nil
}
