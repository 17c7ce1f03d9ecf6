package httpserver

import (
	"errors"
	"log/slog"

	"nhooyr.io/websocket"
)

func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && logger != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return
		}
		logger.Debug("websocket close failed", "err", err)
	}
}
