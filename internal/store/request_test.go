package store

import (
	"testing"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

func TestCreateRequestFansOutProcessingItems(t *testing.T) {
	s := openTestStore(t)

	ep1, ep2 := 1, 2
	req := model.Request{
		Kind:  model.KindSeries,
		Title: "Example Show",
		Year:  2020,
		Targets: []model.DeliveryTarget{{ServerID: "plex-1"}},
		Episodes: []model.EpisodeTarget{
			{Season: 1, Episode: &ep1},
			{Season: 1, Episode: &ep2},
		},
	}

	created, err := s.CreateRequest(req)
	if err != nil {
		t.Fatalf("CreateRequest error = %v", err)
	}
	if created.Status != model.StatusAwaiting {
		t.Fatalf("status = %s, want Awaiting", created.Status)
	}

	items, err := s.ListProcessingItems(created.ID)
	if err != nil {
		t.Fatalf("ListProcessingItems error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	for _, item := range items {
		if item.Status != model.ItemStatusAwaiting {
			t.Errorf("item status = %s, want Awaiting", item.Status)
		}
		if item.IsSeasonPack() {
			t.Errorf("item %+v should not be a season pack", item)
		}
	}
}

func TestGetRequestRoundTripsReleases(t *testing.T) {
	s := openTestStore(t)

	created, err := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "A Movie", Year: 2019})
	if err != nil {
		t.Fatalf("CreateRequest error = %v", err)
	}

	releases := []model.Release{{Title: "A Movie 2019 1080p", Resolution: model.Res1080p}}
	selected := &releases[0]
	if err := s.SetRequestReleases(created.ID, releases, selected); err != nil {
		t.Fatalf("SetRequestReleases error = %v", err)
	}

	got, err := s.GetRequest(created.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if len(got.AvailableReleases) != 1 {
		t.Fatalf("available releases = %d, want 1", len(got.AvailableReleases))
	}
	if got.SelectedRelease == nil || got.SelectedRelease.Title != selected.Title {
		t.Fatalf("selected release = %+v, want %+v", got.SelectedRelease, selected)
	}
}

func TestUpdateRequestStatusPersists(t *testing.T) {
	s := openTestStore(t)

	created, _ := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "A Movie"})
	if err := s.UpdateRequestStatus(created.ID, model.StatusDownloading, "download"); err != nil {
		t.Fatalf("UpdateRequestStatus error = %v", err)
	}
	got, err := s.GetRequest(created.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusDownloading || got.CurrentStep != "download" {
		t.Fatalf("got status=%s step=%s, want Downloading/download", got.Status, got.CurrentStep)
	}
}

func TestListRequestsByStatus(t *testing.T) {
	s := openTestStore(t)

	_, _ = s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "One", Status: model.StatusAwaiting})
	_, _ = s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Two", Status: model.StatusComplete})

	found, err := s.ListRequestsByStatus(model.StatusAwaiting)
	if err != nil {
		t.Fatalf("ListRequestsByStatus error = %v", err)
	}
	if len(found) != 1 || found[0].Title != "One" {
		t.Fatalf("found = %+v, want just 'One'", found)
	}
}
