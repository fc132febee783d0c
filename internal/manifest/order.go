package manifest

import "github.com/thoreinstein/capstan/internal/errors"

// SortComponents returns the manifest's components in dependency order: a
// component always appears after everything it depends on. Components with
// equal rank keep their declared order. Returns an error when the dependency
// graph contains a cycle.
func (m *Manifest) SortComponents() ([]Component, error) {
	byName := make(map[string]Component, len(m.Components))
	indegree := make(map[string]int, len(m.Components))
	dependents := make(map[string][]string, len(m.Components))

	for _, c := range m.Components {
		byName[c.Name] = c
		indegree[c.Name] = len(c.DependsOn)
		for _, dep := range c.DependsOn {
			dependents[dep] = append(dependents[dep], c.Name)
		}
	}

	// Kahn's algorithm, seeded in declared order for determinism.
	var queue []string
	for _, c := range m.Components {
		if indegree[c.Name] == 0 {
			queue = append(queue, c.Name)
		}
	}

	sorted := make([]Component, 0, len(m.Components))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byName[name])

		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(m.Components) {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "component dependency graph contains a cycle")
	}
	return sorted, nil
}

// FilesInInstallOrder returns the manifest's files ordered for staging:
// files without a component first in declared order, then each component's
// files following the component dependency order. Within a group the
// declared file order is preserved.
func (m *Manifest) FilesInInstallOrder() ([]FileEntry, error) {
	if len(m.Components) == 0 {
		return m.Files, nil
	}

	components, err := m.SortComponents()
	if err != nil {
		return nil, err
	}

	ordered := make([]FileEntry, 0, len(m.Files))
	for _, f := range m.Files {
		if f.Component == "" {
			ordered = append(ordered, f)
		}
	}
	for _, c := range components {
		for _, f := range m.Files {
			if f.Component == c.Name {
				ordered = append(ordered, f)
			}
		}
	}
	return ordered, nil
}
