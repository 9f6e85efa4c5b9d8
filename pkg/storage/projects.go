package storage

import (
	"fmt"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/types"
)

// Projects returns the typed project view over this store.
func (s *Store) Projects() *ProjectsView { return &ProjectsView{s} }

// ProjectsView exposes project-scoped accessors. Every mutating method
// saves the document before returning.
type ProjectsView struct{ s *Store }

// Add appends a new project and persists it.
func (v *ProjectsView) Add(p *types.Project) error {
	return v.s.mutate(func(st *types.State) error {
		for _, existing := range st.Projects {
			if existing.Name == p.Name {
				return ctlerr.User("choose a different project name or delete the existing one",
					"project %q already exists", p.Name)
			}
		}
		st.Projects = append(st.Projects, p)
		return nil
	})
}

// GetByName returns the project named name, or a UserError if absent.
func (v *ProjectsView) GetByName(name string) (*types.Project, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, ctlerr.User("run `pgbranch setup` first", "state is not initialized")
	}
	for _, p := range v.s.state.Projects {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, ctlerr.User("check `pgbranch project list`", "project %q not found", name)
}

// List returns every project.
func (v *ProjectsView) List() ([]*types.Project, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	out := make([]*types.Project, len(v.s.state.Projects))
	copy(out, v.s.state.Projects)
	return out, nil
}

// Update replaces the project with the same name as p.
func (v *ProjectsView) Update(p *types.Project) error {
	return v.s.mutate(func(st *types.State) error {
		for i, existing := range st.Projects {
			if existing.Name == p.Name {
				st.Projects[i] = p
				return nil
			}
		}
		return fmt.Errorf("update: project %q not found", p.Name)
	})
}

// Delete removes the project named name along with every branch under it.
func (v *ProjectsView) Delete(name string) error {
	return v.s.mutate(func(st *types.State) error {
		for i, p := range st.Projects {
			if p.Name == name {
				st.Projects = append(st.Projects[:i], st.Projects[i+1:]...)
				return nil
			}
		}
		return ctlerr.User("check `pgbranch project list`", "project %q not found", name)
	})
}
