package search

import (
	"strings"

	"github.com/opzero1/codeintel/internal/store"
)

// ConfidenceInputs carries the raw signals needed to compute multi-signal
// confidence diagnostics for a completed query.
type ConfidenceInputs struct {
	VectorHits   int
	KeywordHits  int
	FusedScores  []float64 // RRF scores, ranked descending
	FilePaths    []string  // file path of each included result, ranked
}

// ComputeConfidence derives the composite confidence score and tier for
// a query result set from three independent signals: cross-channel
// agreement, score separation between the top results, and how
// concentrated the results are within a single directory.
func ComputeConfidence(in ConfidenceInputs) store.ConfidenceDiagnostics {
	agreement := retrievalAgreement(in.VectorHits, in.KeywordHits)
	spread := scoreSpread(in.FusedScores)
	concentration, uniqueFiles := scopeConcentration(in.FilePaths)

	composite := 0.45*agreement + 0.25*spread + 0.30*concentration

	diag := store.ConfidenceDiagnostics{
		RetrievalAgreement: agreement,
		ScoreSpread:        spread,
		ScopeConcentration: concentration,
		UniqueFiles:        uniqueFiles,
		TotalCandidates:    len(in.FilePaths),
		Composite:          composite,
	}

	if len(in.FusedScores) == 0 {
		diag.Tier = "degraded"
		diag.TierReason = "no results retrieved"
		return diag
	}

	switch {
	case composite >= 0.7:
		diag.Tier = "high"
	case composite >= 0.4:
		diag.Tier = "medium"
	case composite >= 0.1:
		diag.Tier = "low"
	default:
		diag.Tier = "degraded"
	}

	diag.TierReason = tierReason(agreement, spread, concentration, in.VectorHits, in.KeywordHits)
	return diag
}

func retrievalAgreement(vHits, kHits int) float64 {
	if vHits > 0 && kHits > 0 {
		lo, hi := vHits, kHits
		if lo > hi {
			lo, hi = hi, lo
		}
		return float64(lo) / float64(hi)
	}
	if vHits > 0 || kHits > 0 {
		return 0.1
	}
	return 0
}

func scoreSpread(scores []float64) float64 {
	if len(scores) <= 1 {
		return 0.5
	}
	top := scores[0]
	second := scores[1]
	last := scores[len(scores)-1]
	denom := top - last
	if denom <= 0 {
		return 0.5
	}
	spread := (top - second) / denom
	if spread < 0 {
		spread = 0
	}
	if spread > 1 {
		spread = 1
	}
	return spread
}

func scopeConcentration(paths []string) (float64, int) {
	if len(paths) == 0 {
		return 0, 0
	}
	dirCounts := make(map[string]int)
	uniqueFiles := make(map[string]bool)
	for _, p := range paths {
		uniqueFiles[p] = true
		dirCounts[directoryOf(p)]++
	}
	maxCount := 0
	for _, c := range dirCounts {
		if c > maxCount {
			maxCount = c
		}
	}
	return float64(maxCount) / float64(len(paths)), len(uniqueFiles)
}

func directoryOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func tierReason(agreement, spread, concentration float64, vHits, kHits int) string {
	var parts []string
	switch {
	case vHits > 0 && kHits > 0:
		parts = append(parts, "both vector and keyword search agreed on results")
	case vHits > 0:
		parts = append(parts, "only vector search produced hits")
	case kHits > 0:
		parts = append(parts, "only keyword search produced hits")
	default:
		parts = append(parts, "neither search channel produced hits")
	}
	if spread >= 0.5 {
		parts = append(parts, "top result is clearly separated from the rest")
	} else {
		parts = append(parts, "scores are closely clustered")
	}
	if concentration >= 0.5 {
		parts = append(parts, "results concentrate in one directory")
	} else {
		parts = append(parts, "results are spread across directories")
	}
	return strings.Join(parts, "; ")
}
