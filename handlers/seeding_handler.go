package handlers

import (
	"net/http"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

type SeedingHandler struct {
	seedingService services.SeedingService
}

func NewSeedingHandler(ss services.SeedingService) *SeedingHandler {
	return &SeedingHandler{seedingService: ss}
}

// SeedTournamentHandler godoc
// @Summary Провести посев турнира
// @Tags seeding
// @Description Организатор раздает подтвержденным командам места 1..N. Повторный вызов пересеивает заново.
// @Accept json
// @Produce json
// @Param tournamentID path int true "Tournament ID"
// @Success 200 {object} map[string]interface{} "Результат посева"
// @Failure 400 {object} map[string]string "Неизвестный метод или невалидная ручная раздача"
// @Failure 403 {object} map[string]string "Нет прав организатора"
// @Failure 404 {object} map[string]string "Турнир не найден"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/seeding [post]
func (h *SeedingHandler) SeedTournamentHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Method string `json:"method"`
		// registration_id -> место, только для method=manual
		Seeds map[int]int `json:"seeds"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	assignments, err := h.seedingService.SeedTournament(r.Context(), tournamentID, models.SeedingMethod(input.Method), input.Seeds)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"method":      input.Method,
		"assignments": assignments,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
