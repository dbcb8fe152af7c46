package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

type TournamentHandler struct {
	tournamentService services.TournamentService
}

func NewTournamentHandler(ts services.TournamentService) *TournamentHandler {
	return &TournamentHandler{tournamentService: ts}
}

func (h *TournamentHandler) GetTournamentHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *TournamentHandler) ListTournamentsHandler(w http.ResponseWriter, r *http.Request) {
	filter := repositories.ListTournamentsFilter{}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		switch status {
		case models.TournamentStatusSoon, models.TournamentStatusRegistration, models.TournamentStatusActive,
			models.TournamentStatusCompleted, models.TournamentStatusCanceled:
			filter.Status = &status
		default:
			badRequestResponse(w, r, errors.New("unknown tournament status filter"))
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			badRequestResponse(w, r, errors.New("limit must be an integer"))
			return
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			badRequestResponse(w, r, errors.New("offset must be an integer"))
			return
		}
		filter.Offset = offset
	}

	tournaments, err := h.tournamentService.ListTournaments(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournaments": tournaments}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
