// Package match implements the title/year/SxxEyy + resolution-gate matcher
// shared by the SEARCH path, the RSS poller, and the IRC listener, per
// spec.md §9 "Announce and Search share the match pipeline". Compiled once
// per candidate request, the matcher is a pure function so its behavior is
// identical on every call site.
package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

var seasonEpisodePattern = regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`)
var seasonOnlyPattern = regexp.MustCompile(`(?i)S(\d{1,2})(?:\s|\.|$)`)
var resolutionPattern = regexp.MustCompile(`(?i)(2160p|1080p|720p|480p)`)

// Candidate is a normalized announce item to test against a Target.
type Candidate struct {
	RawTitle string
}

// Target is what an incoming announce must match to satisfy a waiting
// Request or ProcessingItem.
type Target struct {
	Title              string
	Year               int
	Season             int // 0 when the target is a movie
	Episode            int // 0 when the target is a movie or a season-pack slot
	RequiredResolution model.Resolution
}

// Outcome describes how a Candidate matched a Target.
type Outcome struct {
	Matched      bool
	SeasonPack   bool
	Season       int
	Episode      int
	Resolution   model.Resolution
	FailedReason string
}

// Match tests whether candidate satisfies target: normalized title
// substring match AND (year present for movies, or SxxEyy/season-pack
// marker present for series) AND the resolution gate.
func Match(candidate Candidate, target Target) Outcome {
	normalizedCandidate := normalize(candidate.RawTitle)
	normalizedTarget := normalize(target.Title)

	if !strings.Contains(normalizedCandidate, normalizedTarget) {
		return Outcome{FailedReason: "title mismatch"}
	}

	res := extractResolution(candidate.RawTitle)
	if target.RequiredResolution != "" && res.Rank() < target.RequiredResolution.Rank() {
		return Outcome{FailedReason: "below required resolution"}
	}

	if target.Season == 0 {
		// Movie target: require the release year to appear.
		if target.Year != 0 && !strings.Contains(candidate.RawTitle, strconv.Itoa(target.Year)) {
			return Outcome{FailedReason: "year mismatch"}
		}
		return Outcome{Matched: true, Resolution: res}
	}

	// Series target: either a specific SxxEyy, or a season-pack marker.
	if m := seasonEpisodePattern.FindStringSubmatch(candidate.RawTitle); m != nil {
		season, _ := strconv.Atoi(m[1])
		episode, _ := strconv.Atoi(m[2])
		if season != target.Season {
			return Outcome{FailedReason: "season mismatch"}
		}
		if target.Episode != 0 && episode != target.Episode {
			return Outcome{FailedReason: "episode mismatch"}
		}
		return Outcome{Matched: true, Season: season, Episode: episode, Resolution: res}
	}

	if m := seasonOnlyPattern.FindStringSubmatch(candidate.RawTitle); m != nil {
		season, _ := strconv.Atoi(m[1])
		if season != target.Season {
			return Outcome{FailedReason: "season mismatch"}
		}
		return Outcome{Matched: true, SeasonPack: true, Season: season, Resolution: res}
	}

	return Outcome{FailedReason: "no season/episode marker found"}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func extractResolution(title string) model.Resolution {
	m := resolutionPattern.FindString(title)
	switch strings.ToLower(m) {
	case "2160p":
		return model.Res2160p
	case "1080p":
		return model.Res1080p
	case "720p":
		return model.Res720p
	case "480p":
		return model.Res480p
	default:
		return model.ResSD
	}
}

// TargetFromRequest builds a movie Target from a Request.
func TargetFromRequest(r model.Request) Target {
	return Target{
		Title:              r.Title,
		Year:               r.Year,
		RequiredResolution: r.RequiredResolution,
	}
}

// TargetFromProcessingItem builds a series Target from a ProcessingItem's
// parent title and its own season/episode.
func TargetFromProcessingItem(parentTitle string, requiredResolution model.Resolution, item model.ProcessingItem) Target {
	t := Target{
		Title:              parentTitle,
		Season:             item.Season,
		RequiredResolution: requiredResolution,
	}
	if item.Episode != nil {
		t.Episode = *item.Episode
	}
	return t
}

// String renders a Target for logging.
func (t Target) String() string {
	if t.Season == 0 {
		return fmt.Sprintf("%s (%d)", t.Title, t.Year)
	}
	if t.Episode == 0 {
		return fmt.Sprintf("%s S%02d", t.Title, t.Season)
	}
	return fmt.Sprintf("%s S%02dE%02d", t.Title, t.Season, t.Episode)
}
