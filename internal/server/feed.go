package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedSubscriptionBuffer = 16
	feedWriteWait          = 5 * time.Second
	feedPongWait           = 60 * time.Second
	feedPingPeriod         = feedPongWait * 9 / 10

	logMessageFeedUpgrade = "snapshot feed upgrade failed"
	logMessageFeedWrite   = "snapshot feed write failed"
	logMessageFeedRead    = "snapshot feed read failed"
)

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveFeed streams a JSON snapshot to the client after every session change,
// starting with the current state.
func (handler portalHandler) serveFeed(ginContext *gin.Context) {
	connection, err := feedUpgrader.Upgrade(ginContext.Writer, ginContext.Request, nil)
	if err != nil {
		handler.logger.Debug(logMessageFeedUpgrade, zap.Error(err))
		return
	}
	subscription := handler.session.Subscribe(feedSubscriptionBuffer)
	if handler.metrics != nil {
		handler.metrics.FeedOpened()
	}
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		subscription.Close()
		connection.Close()
		if handler.metrics != nil {
			handler.metrics.FeedClosed()
		}
	}()

	clientGone := make(chan struct{})
	go handler.drainFeed(connection, clientGone)

	for {
		select {
		case snapshot, ok := <-subscription.C():
			_ = connection.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = connection.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := connection.WriteJSON(snapshot); err != nil {
				handler.logger.Debug(logMessageFeedWrite, zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = connection.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				handler.logger.Debug(logMessageFeedWrite, zap.Error(err))
				return
			}
		case <-clientGone:
			return
		}
	}
}

// drainFeed consumes client frames so control messages are processed and
// signals when the client goes away.
func (handler portalHandler) drainFeed(connection *websocket.Conn, clientGone chan<- struct{}) {
	defer close(clientGone)
	_ = connection.SetReadDeadline(time.Now().Add(feedPongWait))
	connection.SetPongHandler(func(string) error {
		return connection.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := connection.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				handler.logger.Debug(logMessageFeedRead, zap.Error(err))
			}
			return
		}
	}
}
