package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/susu3304/warboard/internal/config"
	"github.com/susu3304/warboard/internal/war"
)

type fakeBoard struct {
	wars    map[string]*war.War
	targets map[string][]war.Target
	updated int
	err     error
}

func (f *fakeBoard) War(ctx context.Context, warID string) (*war.War, error) {
	if f.err != nil {
		return nil, f.err
	}
	w, ok := f.wars[warID]
	if !ok {
		return nil, war.ErrWarNotFound
	}
	return w, nil
}

func (f *fakeBoard) Targets(ctx context.Context, warID string) ([]war.Target, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.targets[warID], nil
}

func (f *fakeBoard) RefreshResults(ctx context.Context, warID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if _, ok := f.wars[warID]; !ok {
		return 0, war.ErrWarNotFound
	}
	return f.updated, nil
}

func testAPI(board *fakeBoard) *API {
	return New(&config.Config{WebBind: "127.0.0.1:0"}, board)
}

func fixtureBoard() *fakeBoard {
	created := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	return &fakeBoard{
		wars: map[string]*war.War{
			"ABC123-202608271200": {
				ID:               "ABC123-202608271200",
				ClanTag:          "#ABC123",
				OpponentName:     "Rival Clan",
				State:            war.StateActive,
				TeamSize:         2,
				AttacksPerMember: 2,
				CreatedAt:        created,
			},
		},
		targets: map[string][]war.Target{
			"ABC123-202608271200": {
				{
					Number:       1,
					OpponentName: "Defender One",
					ReservedBy:   []string{"alice"},
					Confidence:   map[string]int{"alice": 80},
					Result: war.Result{
						Kind:        war.ResultReconciled,
						Stars:       2,
						Destruction: 71,
						AttackerRef: "#A1",
					},
				},
				{Number: 2},
			},
		},
		updated: 3,
	}
}

func TestGetWar(t *testing.T) {
	a := testAPI(fixtureBoard())

	req := httptest.NewRequest("GET", "/api/wars/ABC123-202608271200", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp warResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "ABC123-202608271200" || resp.State != "active" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.TeamSize != 2 || resp.OpponentName != "Rival Clan" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGetWarNotFound(t *testing.T) {
	a := testAPI(fixtureBoard())

	req := httptest.NewRequest("GET", "/api/wars/missing", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListTargets(t *testing.T) {
	a := testAPI(fixtureBoard())

	req := httptest.NewRequest("GET", "/api/wars/ABC123-202608271200/targets", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp []targetResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d targets, want 2", len(resp))
	}

	first := resp[0]
	if first.Number != 1 || len(first.ReservedBy) != 1 || first.ReservedBy[0] != "alice" {
		t.Errorf("first = %+v", first)
	}
	if first.Confidence["alice"] != 80 {
		t.Errorf("confidence = %v", first.Confidence)
	}
	if first.Result == nil || first.Result.Kind != "reconciled" || first.Result.Stars != 2 {
		t.Errorf("result = %+v", first.Result)
	}

	second := resp[1]
	if second.Result != nil {
		t.Errorf("unset result should be omitted, got %+v", second.Result)
	}
	if second.ReservedBy == nil {
		t.Error("reservedBy should encode as an empty array, not null")
	}
}

func TestRefreshWar(t *testing.T) {
	a := testAPI(fixtureBoard())

	req := httptest.NewRequest("POST", "/api/wars/ABC123-202608271200/refresh", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["updated"] != 3 {
		t.Errorf("updated = %d, want 3", resp["updated"])
	}
}

func TestRefreshEndedWarConflict(t *testing.T) {
	board := fixtureBoard()
	board.err = war.ErrWarEnded
	a := testAPI(board)

	req := httptest.NewRequest("POST", "/api/wars/ABC123-202608271200/refresh", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	a := testAPI(fixtureBoard())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
