package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/susu3304/warboard/internal/war"
)

type warResponse struct {
	ID               string     `json:"id"`
	ClanTag          string     `json:"clanTag"`
	OpponentTag      string     `json:"opponentTag,omitempty"`
	OpponentName     string     `json:"opponentName,omitempty"`
	State            string     `json:"state"`
	TeamSize         int        `json:"teamSize"`
	AttacksPerMember int        `json:"attacksPerMember"`
	CreatedAt        time.Time  `json:"createdAt"`
	EndedAt          *time.Time `json:"endedAt,omitempty"`
}

type resultResponse struct {
	Kind        string `json:"kind"`
	Stars       int    `json:"stars"`
	Destruction int    `json:"destruction"`
	AttackerRef string `json:"attackerRef,omitempty"`
}

type targetResponse struct {
	Number        int             `json:"number"`
	OpponentTag   string          `json:"opponentTag,omitempty"`
	OpponentName  string          `json:"opponentName,omitempty"`
	OpponentLevel int             `json:"opponentLevel,omitempty"`
	ReservedBy    []string        `json:"reservedBy"`
	Confidence    map[string]int  `json:"confidence,omitempty"`
	Result        *resultResponse `json:"result,omitempty"`
}

func toWarResponse(w *war.War) warResponse {
	return warResponse{
		ID:               w.ID,
		ClanTag:          w.ClanTag,
		OpponentTag:      w.OpponentTag,
		OpponentName:     w.OpponentName,
		State:            string(w.State),
		TeamSize:         w.TeamSize,
		AttacksPerMember: w.AttacksPerMember,
		CreatedAt:        w.CreatedAt,
		EndedAt:          w.EndedAt,
	}
}

func toTargetResponse(t *war.Target) targetResponse {
	resp := targetResponse{
		Number:        t.Number,
		OpponentTag:   t.OpponentTag,
		OpponentName:  t.OpponentName,
		OpponentLevel: t.OpponentLevel,
		ReservedBy:    t.ReservedBy,
		Confidence:    t.Confidence,
	}
	if resp.ReservedBy == nil {
		resp.ReservedBy = []string{}
	}
	if t.Result.IsSet() {
		resp.Result = &resultResponse{
			Kind:        string(t.Result.Kind),
			Stars:       t.Result.Stars,
			Destruction: t.Result.Destruction,
			AttackerRef: t.Result.AttackerRef,
		}
	}
	return resp
}

func (a *API) handleGetWar(w http.ResponseWriter, r *http.Request) {
	warID := mux.Vars(r)["war_id"]

	session, err := a.svc.War(r.Context(), warID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWarResponse(session))
}

func (a *API) handleListTargets(w http.ResponseWriter, r *http.Request) {
	warID := mux.Vars(r)["war_id"]

	if _, err := a.svc.War(r.Context(), warID); err != nil {
		writeError(w, err)
		return
	}

	targets, err := a.svc.Targets(r.Context(), warID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]targetResponse, 0, len(targets))
	for idx := range targets {
		out = append(out, toTargetResponse(&targets[idx]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	warID := mux.Vars(r)["war_id"]

	updated, err := a.svc.RefreshResults(r.Context(), warID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, war.ErrWarNotFound), errors.Is(err, war.ErrTargetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, war.ErrWarEnded), errors.Is(err, war.ErrAlreadyEnded):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
