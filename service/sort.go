package service

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

const (
	unvisited = iota
	visiting
	visited
)

// sortServices computes the startup order: dependencies before dependents,
// seeded by descending priority with the identifier as tie-break. The same
// ordering applies when expanding each node's dependency edges, so the
// result is deterministic. A back-edge fails with the circular-dependency
// error naming the service where the cycle closed.
func sortServices(services map[string]Service) ([]string, error) {
	byStartOrder := func(a, b string) int {
		sa, okA := services[a]
		sb, okB := services[b]
		if !okA || !okB {
			return cmp.Compare(a, b)
		}
		if c := cmp.Compare(sb.Config().Priority, sa.Config().Priority); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	}

	seeds := make([]string, 0, len(services))
	for name := range services {
		seeds = append(seeds, name)
	}
	slices.SortFunc(seeds, byStartOrder)

	state := make(map[string]int, len(services))
	order := make([]string, 0, len(services))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", errors.ErrCircularDependency, name)
		}
		state[name] = visiting

		svc, ok := services[name]
		if !ok {
			// Registration checks dependencies, but a Service whose
			// Config changes afterwards can still dangle.
			return fmt.Errorf("%w: %s", errors.ErrUnknownDependency, name)
		}

		deps := svc.Config().Dependencies
		slices.SortFunc(deps, byStartOrder)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range seeds {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return order, nil
}
