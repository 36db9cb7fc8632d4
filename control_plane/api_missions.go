package main

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/fleetops/control_plane/tasking"
)

// writeTaskingError maps coordinator errors to HTTP statuses.
func writeTaskingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasking.ErrMissionNotFound), errors.Is(err, tasking.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, tasking.ErrUnknownStrategy), errors.Is(err, tasking.ErrInvalidStatus),
		errors.Is(err, tasking.ErrInvalidMission):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("[TASKING] Request failed: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (a *API) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var m tasking.JointMission
	if !decodeJSON(w, r, &m) {
		return
	}
	if m.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	id, err := a.coordinator.CreateMission(r.Context(), m)
	if errors.Is(err, tasking.ErrInvalidStatus) || errors.Is(err, tasking.ErrInvalidMission) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "missionId": id})
}

func (a *API) handleListMissions(w http.ResponseWriter, r *http.Request) {
	var statuses []tasking.MissionStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, tasking.MissionStatus(strings.TrimSpace(s)))
		}
	}

	missions, err := a.coordinator.ListMissions(r.Context(), statuses...)
	if err != nil {
		writeTaskingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, missions)
}

func (a *API) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m := a.coordinator.GetMission(r.Context(), chi.URLParam(r, "missionID"))
	if m == nil {
		http.Error(w, tasking.ErrMissionNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleMissionTimeline returns one mission's trail; ?task= narrows it to a
// single task.
func (a *API) handleMissionTimeline(w http.ResponseWriter, r *http.Request) {
	missionID := chi.URLParam(r, "missionID")
	if task := r.URL.Query().Get("task"); task != "" {
		writeJSON(w, http.StatusOK, a.coordinator.Timeline().GetEventsByTask(missionID, task))
		return
	}
	writeJSON(w, http.StatusOK, a.coordinator.Timeline().GetEvents(missionID))
}

// handleTimeline returns every retained event across missions, oldest first.
func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.coordinator.Timeline().GetAllEvents())
}

type planRequest struct {
	Strategy tasking.Strategy `json:"strategy"`
}

func (a *API) handlePlanMission(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := a.coordinator.PlanMission(r.Context(), chi.URLParam(r, "missionID"), req.Strategy)
	if err != nil {
		writeTaskingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mission":    m,
		"unassigned": m.Unassigned(),
	})
}

func (a *API) handleSyncMission(w http.ResponseWriter, r *http.Request) {
	m := a.coordinator.GetMission(r.Context(), chi.URLParam(r, "missionID"))
	if m == nil {
		http.Error(w, tasking.ErrMissionNotFound.Error(), http.StatusNotFound)
		return
	}

	// A failed sync is still a completed request; the result says what failed.
	writeJSON(w, http.StatusOK, a.coordinator.SyncMissionStatus(r.Context(), m))
}

type statusRequest struct {
	Status tasking.MissionStatus `json:"status"`
}

func (a *API) handleSetMissionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.coordinator.SetMissionStatus(r.Context(), chi.URLParam(r, "missionID"), req.Status); err != nil {
		writeTaskingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskUpdateRequest struct {
	Status   tasking.TaskStatus     `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := a.coordinator.UpdateTaskStatus(r.Context(), chi.URLParam(r, "missionID"), chi.URLParam(r, "taskID"), req.Status, req.Metadata)
	if err != nil {
		if errors.Is(err, tasking.ErrMissionNotFound) || errors.Is(err, tasking.ErrTaskNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		writeTaskingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
