package engine

import (
	"fmt"
	"sort"
	"strings"
)

// RecipeFunc evaluates the fixed declaration script of one recipe.
type RecipeFunc func(b *Builder) error

// Recipe is a named declaration script plus the recipes it includes.
// A recipe's own declarations come before the declarations of its includes.
type Recipe struct {
	Name     string
	Includes []string
	Build    RecipeFunc
}

// RecipeGraph is the static include relation between recipes.
type RecipeGraph struct {
	// recipes maps recipe names to their definitions
	recipes map[string]*Recipe

	// names keeps registration order for deterministic output
	names []string
}

// NewRecipeGraph creates an empty recipe graph.
func NewRecipeGraph() *RecipeGraph {
	return &RecipeGraph{
		recipes: make(map[string]*Recipe),
	}
}

// Add registers a recipe. Names must be unique.
func (g *RecipeGraph) Add(r Recipe) error {
	if r.Name == "" {
		return NewConfigError("recipe has empty name", nil).WithCode(ErrCodeRecipeGraph)
	}
	if _, exists := g.recipes[r.Name]; exists {
		return NewConfigError(fmt.Sprintf("duplicate recipe: %s", r.Name), nil).
			WithCode(ErrCodeRecipeGraph)
	}
	rc := r
	g.recipes[r.Name] = &rc
	g.names = append(g.names, r.Name)
	return nil
}

// Get returns a registered recipe.
func (g *RecipeGraph) Get(name string) (*Recipe, bool) {
	r, ok := g.recipes[name]
	return r, ok
}

// Names returns all recipe names in registration order.
func (g *RecipeGraph) Names() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

// Validate checks that every include exists and that there are no cycles.
func (g *RecipeGraph) Validate() error {
	for _, name := range g.names {
		for _, inc := range g.recipes[name].Includes {
			if _, ok := g.recipes[inc]; !ok {
				return NewConfigError(
					fmt.Sprintf("recipe %s includes unknown recipe %s", name, inc), nil,
				).WithCode(ErrCodeRecipeGraph).WithResource(name)
			}
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	for _, name := range g.names {
		if visited[name] {
			continue
		}
		if cycle := g.detectCycle(name, visited, recStack, nil); cycle != nil {
			return NewConfigError(
				fmt.Sprintf("circular recipe include: %s", formatCycle(cycle)), nil,
			).WithCode(ErrCodeRecipeGraph)
		}
	}
	return nil
}

// detectCycle performs DFS over includes and returns the cycle path if found.
func (g *RecipeGraph) detectCycle(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, inc := range g.recipes[name].Includes {
		if !visited[inc] {
			if cycle := g.detectCycle(inc, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[inc] {
			for i, id := range path {
				if id == inc {
					cycle := append([]string{}, path[i:]...)
					return append(cycle, inc)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// Expand returns the order in which recipes run for the given run list.
// Each recipe appears once, at its first inclusion: the recipe itself, then
// its includes in declared order.
func (g *RecipeGraph) Expand(runList ...string) ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	order := make([]string, 0, len(g.recipes))
	var visit func(string)
	visit = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		order = append(order, name)
		for _, inc := range g.recipes[name].Includes {
			visit(inc)
		}
	}

	for _, name := range runList {
		if _, ok := g.recipes[name]; !ok {
			return nil, NewConfigError(fmt.Sprintf("unknown recipe in run list: %s", name), nil).
				WithCode(ErrCodeRecipeGraph)
		}
		visit(name)
	}
	return order, nil
}

// Compile expands the run list and evaluates every recipe in order, returning
// the flat declaration list the orchestrator applies.
func (g *RecipeGraph) Compile(runList ...string) ([]*Declaration, error) {
	order, err := g.Expand(runList...)
	if err != nil {
		return nil, err
	}

	var all []*Declaration
	for _, name := range order {
		r := g.recipes[name]
		b := NewBuilder(name)
		if r.Build != nil {
			if err := r.Build(b); err != nil {
				return nil, fmt.Errorf("recipe %s: %w", name, err)
			}
		}
		decls, err := b.Declarations()
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name, err)
		}
		all = append(all, decls...)
	}
	return all, nil
}

// ToDOT generates a DOT representation of the include graph. Recipes in the
// expanded run list are filled; the label carries their position.
func (g *RecipeGraph) ToDOT(runList ...string) string {
	position := make(map[string]int)
	if order, err := g.Expand(runList...); err == nil {
		for i, name := range order {
			position[name] = i + 1
		}
	}

	var sb strings.Builder
	sb.WriteString("digraph Recipes {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	names := g.Names()
	sort.Strings(names)
	for _, name := range names {
		if pos, ok := position[name]; ok {
			sb.WriteString(fmt.Sprintf("  \"%s\" [label=\"%d. %s\", fillcolor=\"lightblue\", style=\"filled,rounded\"];\n",
				name, pos, name))
		} else {
			sb.WriteString(fmt.Sprintf("  \"%s\";\n", name))
		}
	}
	sb.WriteString("\n")

	for _, name := range names {
		for i, inc := range g.recipes[name].Includes {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%d\"];\n", name, inc, i+1))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
