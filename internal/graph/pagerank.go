package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opzero1/codeintel/internal/store"
)

// PageRankOptions configures the repo-map importance computation.
type PageRankOptions struct {
	Damping    float64
	Iterations int
	Branch     string
}

// DefaultPageRankOptions mirrors a standard PageRank configuration.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Damping: 0.85, Iterations: 20, Branch: store.DefaultBranch}
}

// ComputeRepoMap aggregates the symbol-level edge graph into file-level
// importance scores by running a damped iterative rank over files
// (edges between symbols are folded into edges between their owning
// files), then upserts the result as repo_map entries.
func ComputeRepoMap(ctx context.Context, metadata store.MetadataStore, opts PageRankOptions) ([]*store.RepoMapEntry, error) {
	branch := opts.Branch
	if branch == "" {
		branch = store.DefaultBranch
	}

	symbols, err := collectAllSymbols(ctx, metadata, branch)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	symbolFile := make(map[string]string, len(symbols))
	fileSymbols := make(map[string][]string)
	for _, s := range symbols {
		symbolFile[s.ID] = s.FilePath
		fileSymbols[s.FilePath] = append(fileSymbols[s.FilePath], s.Name)
	}

	edges, err := metadata.AllEdges(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("compute repo map: all edges: %w", err)
	}

	outLinks := make(map[string]map[string]bool)
	inDegree := make(map[string]int)
	outDegree := make(map[string]int)
	files := make(map[string]bool)
	for path := range fileSymbols {
		files[path] = true
		outLinks[path] = make(map[string]bool)
	}

	for _, e := range edges {
		srcFile, ok1 := symbolFile[e.SourceID]
		dstFile, ok2 := symbolFile[e.TargetID]
		if !ok1 || !ok2 || srcFile == dstFile {
			continue
		}
		if !outLinks[srcFile][dstFile] {
			outLinks[srcFile][dstFile] = true
			outDegree[srcFile]++
			inDegree[dstFile]++
		}
	}

	n := float64(len(files))
	rank := make(map[string]float64, len(files))
	for path := range files {
		rank[path] = 1.0 / n
	}

	damping := opts.Damping
	if damping <= 0 || damping >= 1 {
		damping = 0.85
	}
	iterations := opts.Iterations
	if iterations <= 0 {
		iterations = 20
	}

	for iter := 0; iter < iterations; iter++ {
		next := make(map[string]float64, len(files))
		base := (1 - damping) / n
		for path := range files {
			next[path] = base
		}
		for src, targets := range outLinks {
			if len(targets) == 0 {
				continue
			}
			share := damping * rank[src] / float64(len(targets))
			for dst := range targets {
				next[dst] += share
			}
		}
		rank = next
	}

	entries := make([]*store.RepoMapEntry, 0, len(files))
	for path := range files {
		names := fileSymbols[path]
		sort.Strings(names)
		summary := strings.Join(names, ", ")
		if len(summary) > 200 {
			summary = summary[:200]
		}
		entries = append(entries, &store.RepoMapEntry{
			FilePath:        path,
			Branch:          branch,
			ImportanceScore: rank[path],
			InDegree:        inDegree[path],
			OutDegree:       outDegree[path],
			SymbolSummary:   summary,
		})
	}

	if err := metadata.ClearRepoMap(ctx, branch); err != nil {
		return nil, fmt.Errorf("compute repo map: clear: %w", err)
	}
	if err := metadata.UpsertRepoMapEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("compute repo map: upsert: %w", err)
	}

	return entries, nil
}

func collectAllSymbols(ctx context.Context, metadata store.MetadataStore, branch string) ([]*store.Symbol, error) {
	files, err := metadata.ListFiles(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("collect symbols: list files: %w", err)
	}
	var all []*store.Symbol
	for _, f := range files {
		syms, err := metadata.GetSymbolsByFile(ctx, f.Path, branch)
		if err != nil {
			return nil, fmt.Errorf("collect symbols: %s: %w", f.Path, err)
		}
		all = append(all, syms...)
	}
	return all, nil
}
