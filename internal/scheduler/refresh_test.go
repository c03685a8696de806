// internal/scheduler/refresh_test.go
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/courtmaster/timemap/internal/timemap"
)

type fakeFeed struct {
	instructions timemap.InstructionSet
	pollErr      error
	raw          timemap.RawSnapshot
	fetchErr     error
	pollCalls    int
	fetchCalls   int
}

func (f *fakeFeed) Poll(_ context.Context, _ string, _ int) (timemap.InstructionSet, error) {
	f.pollCalls++
	return f.instructions, f.pollErr
}

func (f *fakeFeed) FetchDay(_ context.Context, _ string, _ int) (timemap.RawSnapshot, error) {
	f.fetchCalls++
	return f.raw, f.fetchErr
}

type fakeState struct {
	days       []TrackedDay
	refresh    bool
	applyErr   error
	replaceErr error
	applied    []timemap.InstructionSet
	replaced   []timemap.RawSnapshot
}

func (s *fakeState) TrackedDays() []TrackedDay { return s.days }

func (s *fakeState) ApplyFeed(_ TrackedDay, instructions timemap.InstructionSet) (bool, error) {
	s.applied = append(s.applied, instructions)
	return s.refresh, s.applyErr
}

func (s *fakeState) ReplaceDay(raw timemap.RawSnapshot) error {
	s.replaced = append(s.replaced, raw)
	return s.replaceErr
}

type fakeStore struct {
	saved    []timemap.RawSnapshot
	saveErr  error
	removed  int64
	pruneErr error
	cutoffs  []string
}

func (s *fakeStore) SaveSnapshot(_ context.Context, raw timemap.RawSnapshot) error {
	s.saved = append(s.saved, raw)
	return s.saveErr
}

func (s *fakeStore) DeleteSnapshotsBefore(_ context.Context, cutoff string) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.removed, s.pruneErr
}

func feedWith(t *testing.T, verb string) timemap.InstructionSet {
	t.Helper()
	var instructions timemap.InstructionSet
	payload := `{"` + verb + `":{"settings":{}},"refresh":false}`
	if err := json.Unmarshal([]byte(payload), &instructions); err != nil {
		t.Fatalf("build instructions: %v", err)
	}
	return instructions
}

func TestRefreshTask_AppliesFeed(t *testing.T) {
	feed := &fakeFeed{instructions: feedWith(t, "set")}
	state := &fakeState{days: []TrackedDay{{Date: "2026-05-11", ViewingType: 1}}}
	store := &fakeStore{}

	refreshTask(feed, state, store)()

	if feed.pollCalls != 1 {
		t.Errorf("pollCalls = %d, want 1", feed.pollCalls)
	}
	if len(state.applied) != 1 {
		t.Fatalf("applied %d feeds, want 1", len(state.applied))
	}
	if feed.fetchCalls != 0 {
		t.Error("no refresh requested, should not fetch")
	}
}

func TestRefreshTask_EmptyFeedSkipsApply(t *testing.T) {
	feed := &fakeFeed{}
	state := &fakeState{days: []TrackedDay{{Date: "2026-05-11", ViewingType: 1}}}

	refreshTask(feed, state, nil)()

	if len(state.applied) != 0 {
		t.Errorf("applied %d feeds, want 0", len(state.applied))
	}
}

func TestRefreshTask_RefreshFlagFetchesFullDay(t *testing.T) {
	raw := timemap.RawSnapshot{Date: "2026-05-11", Type: 1}
	feed := &fakeFeed{instructions: feedWith(t, "set"), raw: raw}
	state := &fakeState{days: []TrackedDay{{Date: "2026-05-11", ViewingType: 1}}, refresh: true}
	store := &fakeStore{}

	refreshTask(feed, state, store)()

	if feed.fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1", feed.fetchCalls)
	}
	if len(store.saved) != 1 || store.saved[0].Date != "2026-05-11" {
		t.Errorf("saved = %+v, want the fetched day cached", store.saved)
	}
	if len(state.replaced) != 1 {
		t.Errorf("replaced %d days, want 1", len(state.replaced))
	}
}

func TestRefreshTask_ApplyErrorFallsBackToFetch(t *testing.T) {
	feed := &fakeFeed{instructions: feedWith(t, "add"), raw: timemap.RawSnapshot{Date: "2026-05-11"}}
	state := &fakeState{
		days:     []TrackedDay{{Date: "2026-05-11", ViewingType: 1}},
		applyErr: errors.New("booking missing time_from"),
	}

	refreshTask(feed, state, nil)()

	if feed.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1 after a rejected feed", feed.fetchCalls)
	}
	if len(state.replaced) != 1 {
		t.Errorf("replaced %d days, want 1", len(state.replaced))
	}
}

func TestRefreshTask_PollFailureKeepsGrid(t *testing.T) {
	feed := &fakeFeed{pollErr: errors.New("backend down")}
	state := &fakeState{days: []TrackedDay{
		{Date: "2026-05-11", ViewingType: 1},
		{Date: "2026-05-12", ViewingType: 1},
	}}

	refreshTask(feed, state, nil)()

	if feed.pollCalls != 2 {
		t.Errorf("pollCalls = %d, want each day polled despite failures", feed.pollCalls)
	}
	if len(state.applied) != 0 || len(state.replaced) != 0 {
		t.Error("failed cycle should not touch state")
	}
}

func TestRefreshTask_FetchFailureKeepsGrid(t *testing.T) {
	feed := &fakeFeed{instructions: feedWith(t, "set"), fetchErr: errors.New("backend down")}
	state := &fakeState{days: []TrackedDay{{Date: "2026-05-11", ViewingType: 1}}, refresh: true}

	refreshTask(feed, state, nil)()

	if len(state.replaced) != 0 {
		t.Error("failed fetch should not replace the day")
	}
}

func TestPruneTask_CutoffFromClock(t *testing.T) {
	store := &fakeStore{removed: 3}
	now := func() time.Time {
		return time.Date(2026, time.May, 11, 4, 0, 0, 0, time.UTC)
	}

	pruneTask(store, 30, now)()

	if len(store.cutoffs) != 1 {
		t.Fatalf("got %d prune calls, want 1", len(store.cutoffs))
	}
	if store.cutoffs[0] != "2026-04-11" {
		t.Errorf("cutoff = %s, want 2026-04-11", store.cutoffs[0])
	}
}

func TestPruneTask_ErrorLoggedNotFatal(t *testing.T) {
	store := &fakeStore{pruneErr: errors.New("disk full")}

	pruneTask(store, 7, time.Now)()

	if len(store.cutoffs) != 1 {
		t.Errorf("got %d prune calls, want 1", len(store.cutoffs))
	}
}
