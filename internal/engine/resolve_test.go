package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/trackdocs/foldersync/internal/namefmt"
)

func testEntity(state string) Entity {
	return Entity{
		ID:       321,
		Title:    "Data Migration",
		AreaPath: `Org\Delivery\acme ltd`,
		State:    state,
		Proposal: "P-77",
		Created:  time.Date(2024, 11, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestResolveActiveEntity(t *testing.T) {
	r := NewResolver("Projects", nil, nil)
	target := r.Resolve(testEntity("Active"))
	want := []string{"Projects", "2024", "Acme Ltd", "321 - P-77 - Data Migration"}
	if !reflect.DeepEqual(target.Segments, want) {
		t.Errorf("segments = %v, want %v", target.Segments, want)
	}
	if target.Archived {
		t.Error("active entity resolved as archived")
	}
}

func TestResolveClosedEntityUsesArchivedBranch(t *testing.T) {
	r := NewResolver("Projects", nil, nil)
	target := r.Resolve(testEntity("Closed"))
	want := []string{"Projects", "2024", "Closed", "Acme Ltd", "321 - P-77 - Data Migration"}
	if !reflect.DeepEqual(target.Segments, want) {
		t.Errorf("segments = %v, want %v", target.Segments, want)
	}
	if !target.Archived {
		t.Error("closed entity not marked archived")
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r := NewResolver("Projects/Clients", nil, nil)
	e := testEntity("Active")
	first := r.Resolve(e)
	for i := 0; i < 5; i++ {
		if got := r.Resolve(e); !reflect.DeepEqual(got, first) {
			t.Fatalf("resolution %d differs: %v vs %v", i, got, first)
		}
	}
}

func TestResolveYearComesFromCreationNotClock(t *testing.T) {
	r := NewResolver("", nil, nil)
	e := testEntity("Closed")
	e.Created = time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)
	target := r.Resolve(e)
	if target.Segments[0] != "2019" {
		t.Errorf("year segment = %q, want 2019", target.Segments[0])
	}
}

func TestIsClosedMatchesCaseInsensitive(t *testing.T) {
	r := NewResolver("", []string{"Abandoned"}, nil)
	for _, state := range []string{"closed", "DONE", "Resolved", "abandoned"} {
		if !r.IsClosed(state) {
			t.Errorf("IsClosed(%q) = false", state)
		}
	}
	for _, state := range []string{"Active", "New", ""} {
		if r.IsClosed(state) {
			t.Errorf("IsClosed(%q) = true", state)
		}
	}
}

func TestSetOverridesAffectsNextResolution(t *testing.T) {
	r := NewResolver("Projects", nil, nil)
	e := testEntity("Active")
	if got := r.Resolve(e).Segments[2]; got != "Acme Ltd" {
		t.Fatalf("client = %q before override", got)
	}
	r.SetOverrides(namefmt.NewOverrides(map[string]string{"acme ltd": "ACME Holdings"}))
	if got := r.Resolve(e).Segments[2]; got != "ACME Holdings" {
		t.Errorf("client = %q, want override applied", got)
	}
}

func TestArchivalIsExclusive(t *testing.T) {
	r := NewResolver("Projects", nil, nil)
	active := r.ResolveActive(testEntity("Closed"))
	archived := r.Resolve(testEntity("Closed"))
	if reflect.DeepEqual(active.Segments, archived.Segments) {
		t.Error("active and archived targets must differ for a closed entity")
	}
	for _, seg := range active.Segments {
		if seg == archivedSegment {
			t.Errorf("active target contains the archived branch: %v", active.Segments)
		}
	}
}
