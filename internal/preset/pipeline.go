package preset

import (
	"context"
	"os"
	"sort"

	"alma/internal/almaerr"
	"alma/internal/appctx"
)

// Pipeline drives acquire -> discover -> parse -> aggregate for every
// --presets argument.
type Pipeline struct {
	ctx      *appctx.Context
	acquirer *Acquirer
}

// NewPipeline builds a preset Pipeline.
func NewPipeline(ctx *appctx.Context, acquirer *Acquirer) *Pipeline {
	return &Pipeline{ctx: ctx, acquirer: acquirer}
}

// Build resolves every source, discovers and parses every preset, and
// aggregates the result, adding extraPackages/extraAURPackages from the
// CLI.
func (p *Pipeline) Build(ctx context.Context, sources []string, extraPackages, extraAURPackages []string) (Set, error) {
	var all []Preset

	for _, source := range sources {
		resolved, err := p.acquirer.Resolve(ctx, source)
		if err != nil {
			return Set{}, err
		}
		paths, err := Discover(resolved)
		if err != nil {
			return Set{}, &almaerr.PresetParse{Path: resolved, Err: err}
		}
		for _, path := range paths {
			preset, err := Parse(path)
			if err != nil {
				return Set{}, err
			}
			all = append(all, preset)
		}
	}

	// script execution order equals the lexicographic sort of preset
	// paths, across all sources combined
	sort.Slice(all, func(i, j int) bool {
		return lexLess(toSlashJoined(all[i].Path), toSlashJoined(all[j].Path))
	})

	set := Set{Presets: all}
	set.aggregate(extraPackages, extraAURPackages)

	if err := set.checkEnvironment(); err != nil {
		return Set{}, err
	}

	return set, nil
}

func (s *Set) aggregate(extraPackages, extraAURPackages []string) {
	pkgSeen := map[string]bool{}
	aurSeen := map[string]bool{}
	envSeen := map[string]bool{}

	for _, preset := range s.Presets {
		for _, pkg := range preset.Packages {
			if !pkgSeen[pkg] {
				pkgSeen[pkg] = true
				s.AggregatedPackages = append(s.AggregatedPackages, pkg)
			}
		}
		for _, pkg := range preset.AURPackages {
			if !aurSeen[pkg] {
				aurSeen[pkg] = true
				s.AggregatedAURPackages = append(s.AggregatedAURPackages, pkg)
			}
		}
		for _, v := range preset.EnvironmentVariables {
			if !envSeen[v] {
				envSeen[v] = true
				s.RequiredEnvironment = append(s.RequiredEnvironment, v)
			}
		}
	}

	for _, pkg := range extraPackages {
		if !pkgSeen[pkg] {
			pkgSeen[pkg] = true
			s.AggregatedPackages = append(s.AggregatedPackages, pkg)
		}
	}
	for _, pkg := range extraAURPackages {
		if !aurSeen[pkg] {
			aurSeen[pkg] = true
			s.AggregatedAURPackages = append(s.AggregatedAURPackages, pkg)
		}
	}
}

// checkEnvironment enforces the environment-variable contract: required_environment must be a subset of the process
// environment before any destructive action.
func (s *Set) checkEnvironment() error {
	for _, v := range s.RequiredEnvironment {
		if _, ok := os.LookupEnv(v); !ok {
			return &almaerr.MissingEnvironment{Var: v}
		}
	}
	return nil
}
