package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{}

// Route wraps a handler returning a value into an echo handler that renders it as JSON.
func Route(handler func(c echo.Context) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := handler(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, result)
	}
}

// WebSocketRoute upgrades the request to a websocket and hands it to handler. Once upgraded,
// errors can no longer be reported over HTTP and are only logged.
func WebSocketRoute(handler func(socket *websocket.Conn, c echo.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// The upgrader has already written the response.
			c.Logger().Warn(err)
			return nil
		}
		if err := handler(conn, c); err != nil {
			c.Logger().Debug(err)
		}
		return nil
	}
}
