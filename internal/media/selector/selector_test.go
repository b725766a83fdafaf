package selector

import (
	"testing"
	"time"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

func TestScoreOrdering(t *testing.T) {
	high := model.Release{Title: "Dune.2021.2160p.BluRay.HEVC", Resolution: model.Res2160p, Source: model.SourceBluRay, Codec: model.CodecHEVC, Seeders: 40}
	low := model.Release{Title: "Dune.2021.720p.HDTV.H264", Resolution: model.Res720p, Source: model.SourceHDTV, Codec: model.CodecH264, Seeders: 5}

	if Score(high) <= Score(low) {
		t.Errorf("expected high-quality release to score higher: %d vs %d", Score(high), Score(low))
	}
}

func TestScorePenalizesSample(t *testing.T) {
	sample := model.Release{Title: "Dune.2021.1080p.SAMPLE.WEB-DL", Resolution: model.Res1080p, Source: model.SourceWebDL}
	clean := model.Release{Title: "Dune.2021.1080p.WEB-DL", Resolution: model.Res1080p, Source: model.SourceWebDL}

	if Score(sample) >= Score(clean) {
		t.Error("expected SAMPLE release to score lower than clean release")
	}
}

func TestNormalizeTitleDedup(t *testing.T) {
	if NormalizeTitle("Dune (2021) 1080p") != NormalizeTitle("dune.2021.1080p") {
		t.Error("expected normalized titles to match across punctuation differences")
	}
}

func TestSelectS1MovieHappyPath(t *testing.T) {
	candidates := []model.Release{
		{Title: "Dune.2021.1080p.WEB-DL.H264", Resolution: model.Res1080p, Source: model.SourceWebDL, Codec: model.CodecH264, Seeders: 120},
		{Title: "Dune.2021.2160p.BluRay.HEVC", Resolution: model.Res2160p, Source: model.SourceBluRay, Codec: model.CodecHEVC, Seeders: 40},
		{Title: "Dune.2021.720p.HDTV.H264", Resolution: model.Res720p, Source: model.SourceHDTV, Codec: model.CodecH264, Seeders: 5},
	}

	result := Select(candidates, Constraints{RequiredResolution: model.Res1080p})

	if len(result.Filtered) != 2 {
		t.Fatalf("expected 2 releases to survive the 1080p gate, got %d", len(result.Filtered))
	}
	if result.Winner == nil || result.Winner.Resolution != model.Res2160p {
		t.Errorf("expected 2160p release to win, got %+v", result.Winner)
	}
}

func TestSelectS2QualityGateEmptiesOut(t *testing.T) {
	candidates := []model.Release{
		{Title: "Dune.2021.720p.HDTV.H264", Resolution: model.Res720p, Source: model.SourceHDTV, Codec: model.CodecH264, Seeders: 5},
	}

	result := Select(candidates, Constraints{RequiredResolution: model.Res1080p})

	if len(result.Scored) != 1 {
		t.Fatalf("expected the raw scored list to retain the one candidate, got %d", len(result.Scored))
	}
	if len(result.Filtered) != 0 {
		t.Error("expected the 720p release to be filtered out by the 1080p requirement")
	}
	if result.Winner != nil {
		t.Error("expected no winner when the post-constraint list is empty")
	}
}

func TestSelectDeterministic(t *testing.T) {
	candidates := []model.Release{
		{Title: "A.2021.1080p.WEB-DL", Resolution: model.Res1080p, Source: model.SourceWebDL, PublishDate: time.Unix(100, 0), IndexerName: "z-indexer"},
		{Title: "A.2021.1080p.WEB-DL", Resolution: model.Res1080p, Source: model.SourceWebDL, PublishDate: time.Unix(100, 0), IndexerName: "a-indexer"},
	}

	r1 := Select(candidates, Constraints{})
	r2 := Select(candidates, Constraints{})

	if len(r1.Scored) != len(r2.Scored) {
		t.Fatal("expected identical output across repeated calls")
	}
}

func TestSelectPreferredResolution(t *testing.T) {
	candidates := []model.Release{
		{Title: "X.2160p.BluRay", Resolution: model.Res2160p, Source: model.SourceBluRay},
		{Title: "X.1080p.BluRay", Resolution: model.Res1080p, Source: model.SourceBluRay},
	}

	result := Select(candidates, Constraints{PreferredResolution: model.Res1080p})
	if result.Winner == nil || result.Winner.Resolution != model.Res1080p {
		t.Errorf("expected preferred resolution to win regardless of score, got %+v", result.Winner)
	}
}

func TestPreferSeasonPackRequiresFullCoverage(t *testing.T) {
	pack := SeasonPackCandidate{
		Release:  model.Release{Title: "Show.S01.COMPLETE.1080p", Resolution: model.Res1080p, Source: model.SourceWebDL},
		Episodes: map[int]bool{1: true, 2: true},
	}

	if PreferSeasonPack(pack, []int{1, 2, 3}, 0) {
		t.Error("expected pack missing episode 3 to lose")
	}
	if !PreferSeasonPack(pack, []int{1, 2}, Score(pack.Release)) {
		t.Error("expected pack covering all awaiting episodes with equal score to win")
	}
}
