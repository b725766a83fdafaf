// Package selector scores, deduplicates, and filters candidate releases.
// It is a pure function of its inputs: given the same candidates and
// constraints it always returns the same ordered list and winner (spec.md
// §8 invariant 4), so it has no dependency on the store, clock, or network.
package selector

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

var (
	resolutionPoints = map[model.Resolution]int{
		model.Res2160p: 100,
		model.Res1080p: 80,
		model.Res720p:  60,
		model.Res480p:  40,
		model.ResSD:    20,
	}

	sourcePoints = map[model.Source]int{
		model.SourceRemux:  50,
		model.SourceBluRay: 40,
		model.SourceWebDL:  35,
		model.SourceWebRip: 30,
		model.SourceHDTV:   25,
		model.SourceDVDRip: 15,
		model.SourceCam:    5,
	}

	codecPoints = map[model.Codec]int{
		model.CodecAV1:  15,
		model.CodecHEVC: 12,
		model.CodecH264: 10,
	}

	// audioBonusPatterns match at most once each, per spec.md §4.4.
	audioBonusPatterns = []struct {
		pattern *regexp.Regexp
		points  int
	}{
		{regexp.MustCompile(`(?i)atmos`), 8},
		{regexp.MustCompile(`(?i)truehd`), 7},
		{regexp.MustCompile(`(?i)dts-?hd`), 6},
		{regexp.MustCompile(`(?i)\bdts\b`), 4},
		{regexp.MustCompile(`(?i)\baac\b`), 3},
	}

	sampleMarker       = regexp.MustCompile(`(?i)sample`)
	hardcodedMarker    = regexp.MustCompile(`(?i)hardcoded|hc `)
	nonEnglishMarker   = regexp.MustCompile(`(?i)\b(french|german|italian|spanish|dubbed|vostfr)\b`)
	normalizeNonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
)

// Score computes the additive integer quality score for a release per
// spec.md §4.4's point table.
func Score(r model.Release) int {
	score := resolutionPoints[r.Resolution]
	score += sourcePoints[r.Source]
	score += codecPoints[r.Codec]

	for _, bonus := range audioBonusPatterns {
		if bonus.pattern.MatchString(r.Title) {
			score += bonus.points
		}
	}

	if r.Seeders > 0 {
		seederScore := int(math.Floor(math.Log10(float64(r.Seeders)) * 5))
		if seederScore > 20 {
			seederScore = 20
		}
		score += seederScore
	}

	if sampleMarker.MatchString(r.Title) {
		score -= 100
	}
	if hardcodedMarker.MatchString(r.Title) {
		score -= 30
	}
	if nonEnglishMarker.MatchString(r.Title) {
		score -= 20
	}

	return score
}

// NormalizeTitle lowercases and strips all non-alphanumeric characters, the
// dedup key used to collapse equivalent releases from different indexers.
func NormalizeTitle(title string) string {
	return normalizeNonAlnum.ReplaceAllString(strings.ToLower(title), "")
}

// Constraints bound which releases are eligible after scoring.
type Constraints struct {
	MaxSize            int64
	MinSeeders         int
	RequiredResolution model.Resolution
	PreferredResolution model.Resolution
}

// Result is the selector's output: the full scored+deduplicated+ordered
// list (pre-constraint, for the quality-gate edge case) and the
// constraint-filtered list plus winner.
type Result struct {
	// Scored is every deduplicated candidate, ordered, before constraints.
	Scored []model.Release
	// Filtered is Scored with constraints applied.
	Filtered []model.Release
	// Winner is the chosen release, or nil if Filtered is empty.
	Winner *model.Release
}

// Select scores, deduplicates, orders, and filters candidates.
func Select(candidates []model.Release, constraints Constraints) Result {
	scored := make([]model.Release, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		scored[i].Score = Score(scored[i])
	}

	deduped := dedupe(scored)
	order(deduped)

	filtered := applyConstraints(deduped, constraints)

	var winner *model.Release
	if len(filtered) > 0 {
		if constraints.PreferredResolution != "" {
			winner = bestAtResolution(filtered, constraints.PreferredResolution)
		}
		if winner == nil {
			w := filtered[0]
			winner = &w
		}
	}

	return Result{Scored: deduped, Filtered: filtered, Winner: winner}
}

// dedupe keeps, for each normalized title, only the highest-scoring release.
func dedupe(releases []model.Release) []model.Release {
	best := make(map[string]model.Release)
	keyOrder := make([]string, 0, len(releases))
	for _, r := range releases {
		key := NormalizeTitle(r.Title)
		existing, ok := best[key]
		if !ok {
			keyOrder = append(keyOrder, key)
			best[key] = r
			continue
		}
		if r.Score > existing.Score {
			best[key] = r
		}
	}
	out := make([]model.Release, 0, len(keyOrder))
	for _, k := range keyOrder {
		out = append(out, best[k])
	}
	return out
}

// order sorts deterministically: score DESC, then publishDate DESC, then
// indexerName ASC.
func order(releases []model.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.PublishDate.Equal(b.PublishDate) {
			return a.PublishDate.After(b.PublishDate)
		}
		return a.IndexerName < b.IndexerName
	})
}

func applyConstraints(releases []model.Release, c Constraints) []model.Release {
	out := make([]model.Release, 0, len(releases))
	for _, r := range releases {
		if c.MaxSize > 0 && r.SizeBytes > c.MaxSize {
			continue
		}
		if c.MinSeeders > 0 && r.Seeders < c.MinSeeders {
			continue
		}
		if c.RequiredResolution != "" && r.Resolution.Rank() < c.RequiredResolution.Rank() {
			continue
		}
		out = append(out, r)
	}
	return out
}

func bestAtResolution(releases []model.Release, res model.Resolution) *model.Release {
	for _, r := range releases {
		if r.Resolution == res {
			rr := r
			return &rr
		}
	}
	return nil
}
