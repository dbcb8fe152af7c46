package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене здесь должна быть проверка Origin,
		// чтобы разрешать подключения только с доверенных доменов.
		return true
	},
}

type WebSocketHandler struct {
	hub               *live.Hub
	tournamentService services.TournamentService
	logger            *slog.Logger
}

func NewWebSocketHandler(hub *live.Hub, ts services.TournamentService, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:               hub,
		tournamentService: ts,
		logger:            logger,
	}
}

// ServeWs подключает клиента к комнате турнира. Клиент получает живые
// события регистрации, check-in и посева без поллинга.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if _, err := h.tournamentService.GetTournament(r.Context(), tournamentID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту, так что здесь просто логируем.
		h.logger.Warn("failed to upgrade websocket connection",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
		return
	}

	client := &live.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: live.RoomForTournament(tournamentID),
	}
	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
