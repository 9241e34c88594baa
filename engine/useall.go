package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/poly1603/ldesign-engine-sub002/log"
	"github.com/poly1603/ldesign-engine-sub002/plugins"
)

// UseAll resolves the full plugin set and installs it in the resolver's
// order, which is authoritative: the per-plugin dependency guard in Install
// cannot fire for a set that resolved successfully. Already-installed
// plugins join the resolution so dependencies on them are satisfied without
// re-passing them; installed names are never installed twice.
//
// Plugins sharing a dependency depth have no edges between them; when the
// engine is configured with InstallParallelism greater than one, each depth
// level is installed on a bounded worker pool. On any failure the plugins
// installed by this call are rolled back in reverse order, best-effort.
func (e *Engine) UseAll(ctx context.Context, list ...plugins.Plugin) error {
	result := e.resolver.Resolve(e.withInstalled(list))
	for _, w := range result.Warnings {
		log.Warnf("plugin resolution: %s", w)
	}
	if !result.Success {
		return resolveError(result)
	}

	levels := groupByDepth(result)

	var installed []string
	rollback := func() {
		for i := len(installed) - 1; i >= 0; i-- {
			if err := e.manager.uninstall(ctx, installed[i], true); err != nil {
				log.Errorf("rollback of plugin %s failed: %v", installed[i], err)
			}
		}
	}

	for _, batch := range levels {
		pending := make([]plugins.Plugin, 0, len(batch))
		for _, p := range batch {
			if !e.manager.Has(p.Name()) {
				pending = append(pending, p)
			}
		}
		if len(pending) == 0 {
			continue
		}

		var err error
		if e.conf.InstallParallelism > 1 && len(pending) > 1 {
			err = e.installParallel(ctx, pending, &installed)
		} else {
			err = e.installSequential(ctx, pending, &installed)
		}
		if err != nil {
			rollback()
			return err
		}
	}
	return nil
}

// withInstalled appends the engine's installed plugins to list, skipping
// names the caller passed themselves. The resolver then sees dependencies on
// installed plugins as present instead of missing.
func (e *Engine) withInstalled(list []plugins.Plugin) []plugins.Plugin {
	passed := make(map[string]bool, len(list))
	for _, p := range list {
		if p != nil {
			passed[p.Name()] = true
		}
	}
	full := append([]plugins.Plugin(nil), list...)
	for _, name := range e.manager.Names() {
		if passed[name] {
			continue
		}
		if p, ok := e.manager.Get(name); ok {
			full = append(full, p)
		}
	}
	return full
}

func (e *Engine) installSequential(ctx context.Context, batch []plugins.Plugin, installed *[]string) error {
	for _, p := range batch {
		if err := e.Use(ctx, p, nil); err != nil {
			return err
		}
		*installed = append(*installed, p.Name())
	}
	return nil
}

// installParallel installs one depth level on an ants pool sized by the
// configured parallelism. The first error wins; successfully installed
// names are still recorded so the caller can roll them back.
func (e *Engine) installParallel(ctx context.Context, batch []plugins.Plugin, installed *[]string) error {
	size := e.conf.InstallParallelism
	if size > len(batch) {
		size = len(batch)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		// Pool construction only fails on invalid size; fall back rather
		// than refusing the install.
		return e.installSequential(ctx, batch, installed)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, p := range batch {
		p := p
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := e.Use(ctx, p, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			*installed = append(*installed, p.Name())
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to submit install of plugin %s: %w", p.Name(), submitErr)
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstErr
}

// groupByDepth buckets the resolved order by node depth, ascending. Order
// inside a bucket follows the resolved order.
func groupByDepth(result plugins.ResolveResult) [][]plugins.Plugin {
	maxDepth := 0
	for _, p := range result.Order {
		if node := result.Graph.Node(p.Name()); node != nil && node.Depth > maxDepth {
			maxDepth = node.Depth
		}
	}
	levels := make([][]plugins.Plugin, maxDepth+1)
	for _, p := range result.Order {
		depth := 0
		if node := result.Graph.Node(p.Name()); node != nil {
			depth = node.Depth
		}
		levels[depth] = append(levels[depth], p)
	}
	return levels
}

// resolveError renders a failed resolution as a single error carrying the
// matching sentinel for errors.Is checks.
func resolveError(result plugins.ResolveResult) error {
	switch {
	case len(result.Cycles) > 0:
		paths := make([]string, 0, len(result.Cycles))
		for _, cycle := range result.Cycles {
			paths = append(paths, strings.Join(cycle, " -> "))
		}
		return fmt.Errorf("%w: %s", plugins.ErrCircularDependency, strings.Join(paths, "; "))
	case len(result.Missing) > 0:
		return fmt.Errorf("%w: %s", plugins.ErrMissingDependency, strings.Join(result.Missing, ", "))
	case len(result.Incompatible) > 0:
		parts := make([]string, 0, len(result.Incompatible))
		for _, inc := range result.Incompatible {
			parts = append(parts, fmt.Sprintf("%s -> %s (%s)", inc.Plugin, inc.Dependency, inc.Reason))
		}
		return fmt.Errorf("%w: %s", plugins.ErrVersionIncompatible, strings.Join(parts, "; "))
	}
	return fmt.Errorf("plugin resolution failed")
}
