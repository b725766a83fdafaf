package selector

import "github.com/atlasarr/atlasarr/internal/media/model"

// SeasonPackCandidate groups a season-pack release with the set of episode
// numbers it claims to cover.
type SeasonPackCandidate struct {
	Release  model.Release
	Episodes map[int]bool
}

// PreferSeasonPack decides between a season pack and the best per-episode
// alternative for one season, per the Open Question decision in DESIGN.md:
// prefer the pack only when it satisfies every currently-Awaiting episode of
// that season AND its score is >= the best per-episode alternative's score;
// otherwise prefer per-episode releases.
func PreferSeasonPack(pack SeasonPackCandidate, awaitingEpisodes []int, bestPerEpisodeScore int) bool {
	for _, ep := range awaitingEpisodes {
		if !pack.Episodes[ep] {
			return false
		}
	}
	return Score(pack.Release) >= bestPerEpisodeScore
}

// SatisfiedEpisodes returns the subset of awaitingEpisodes the pack covers.
func SatisfiedEpisodes(pack SeasonPackCandidate, awaitingEpisodes []int) []int {
	out := make([]int, 0, len(awaitingEpisodes))
	for _, ep := range awaitingEpisodes {
		if pack.Episodes[ep] {
			out = append(out, ep)
		}
	}
	return out
}
