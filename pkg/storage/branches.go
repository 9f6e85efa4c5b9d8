package storage

import (
	"fmt"

	"github.com/cuemby/pgbranch/pkg/ctlerr"
	"github.com/cuemby/pgbranch/pkg/types"
)

// Branches returns the typed branch view over this store.
func (s *Store) Branches() *BranchesView { return &BranchesView{s} }

// BranchesView exposes branch-scoped accessors across all projects.
type BranchesView struct{ s *Store }

// Add appends branch under the named project and persists it.
func (v *BranchesView) Add(projectName string, b *types.Branch) error {
	return v.s.mutate(func(st *types.State) error {
		p := findProject(st, projectName)
		if p == nil {
			return ctlerr.User("check `pgbranch project list`", "project %q not found", projectName)
		}
		for _, existing := range p.Branches {
			if existing.Name == b.Name {
				return ctlerr.User("choose a different branch name", "branch %q already exists", b.Name)
			}
		}
		p.Branches = append(p.Branches, b)
		return nil
	})
}

// GetByNamespace returns the branch named "<project>/<branch>".
func (v *BranchesView) GetByNamespace(name string) (*types.Branch, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, ctlerr.User("run `pgbranch setup` first", "state is not initialized")
	}
	for _, p := range v.s.state.Projects {
		for _, b := range p.Branches {
			if b.Name == name {
				return b, nil
			}
		}
	}
	return nil, ctlerr.User("check `pgbranch branch list`", "branch %q not found", name)
}

// GetMain returns the primary branch of the named project.
func (v *BranchesView) GetMain(projectName string) (*types.Branch, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, ctlerr.User("run `pgbranch setup` first", "state is not initialized")
	}
	p := findProject(v.s.state, projectName)
	if p == nil {
		return nil, ctlerr.User("check `pgbranch project list`", "project %q not found", projectName)
	}
	for _, b := range p.Branches {
		if b.IsPrimary {
			return b, nil
		}
	}
	return nil, fmt.Errorf("project %q has no primary branch", projectName)
}

// ListAll returns every branch across every project.
func (v *BranchesView) ListAll() ([]*types.Branch, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	var out []*types.Branch
	for _, p := range v.s.state.Projects {
		out = append(out, p.Branches...)
	}
	return out, nil
}

// ListForProject returns every branch under projectName.
func (v *BranchesView) ListForProject(projectName string) ([]*types.Branch, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if v.s.state == nil {
		return nil, nil
	}
	p := findProject(v.s.state, projectName)
	if p == nil {
		return nil, ctlerr.User("check `pgbranch project list`", "project %q not found", projectName)
	}
	out := make([]*types.Branch, len(p.Branches))
	copy(out, p.Branches)
	return out, nil
}

// Update replaces the branch with the same name as b.
func (v *BranchesView) Update(b *types.Branch) error {
	return v.s.mutate(func(st *types.State) error {
		p := findProject(st, b.ProjectName)
		if p == nil {
			return fmt.Errorf("update: project %q not found", b.ProjectName)
		}
		for i, existing := range p.Branches {
			if existing.Name == b.Name {
				p.Branches[i] = b
				return nil
			}
		}
		return fmt.Errorf("update: branch %q not found", b.Name)
	})
}

// Delete removes the branch named name from its project.
func (v *BranchesView) Delete(name string) error {
	return v.s.mutate(func(st *types.State) error {
		for _, p := range st.Projects {
			for i, b := range p.Branches {
				if b.Name == name {
					p.Branches = append(p.Branches[:i], p.Branches[i+1:]...)
					return nil
				}
			}
		}
		return ctlerr.User("check `pgbranch branch list`", "branch %q not found", name)
	})
}

func findProject(st *types.State, name string) *types.Project {
	for _, p := range st.Projects {
		if p.Name == name {
			return p
		}
	}
	return nil
}
