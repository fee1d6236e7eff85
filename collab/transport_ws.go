package collab

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type WsSettings struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// empty allows any origin
	AllowedOrigins []string
}

func DefaultWsSettings() *WsSettings {
	return &WsSettings{
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   int(kib(16)),
		WriteBufferSize:  int(kib(16)),
	}
}

// Adapts a websocket to a byte stream. Each write is one binary message, and reads treat
// the sequence of binary messages as one continuous stream.
type wsStream struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (self *wsStream) Read(b []byte) (int, error) {
	for {
		if self.reader == nil {
			messageType, reader, err := self.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			self.reader = reader
		}
		n, err := self.reader.Read(b)
		if err == io.EOF {
			self.reader = nil
			if 0 < n {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (self *wsStream) Write(b []byte) (int, error) {
	if err := self.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (self *wsStream) Close() error {
	return self.ws.Close()
}

func (self *wsStream) SetReadDeadline(t time.Time) error {
	return self.ws.SetReadDeadline(t)
}

func (self *wsStream) SetWriteDeadline(t time.Time) error {
	return self.ws.SetWriteDeadline(t)
}

func DialWsConnection(
	ctx context.Context,
	url string,
	settings *ConnectionSettings,
	wsSettings *WsSettings,
	callbacks ConnectionCallbacks,
) (*NetConnection, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: wsSettings.HandshakeTimeout,
		ReadBufferSize:   wsSettings.ReadBufferSize,
		WriteBufferSize:  wsSettings.WriteBufferSize,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return newNetConnection(ctx, &wsStream{ws: ws}, ws.RemoteAddr().String(), settings, callbacks)
}

func UpgradeWsConnection(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	settings *ConnectionSettings,
	wsSettings *WsSettings,
	callbacks ConnectionCallbacks,
) (*NetConnection, error) {
	upgrader := &websocket.Upgrader{
		HandshakeTimeout: wsSettings.HandshakeTimeout,
		ReadBufferSize:   wsSettings.ReadBufferSize,
		WriteBufferSize:  wsSettings.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(wsSettings.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range wsSettings.AllowedOrigins {
				if origin == allowedOrigin {
					return true
				}
			}
			return false
		},
	}
	// the upgrader writes the http error response
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	return newNetConnection(ctx, &wsStream{ws: ws}, r.RemoteAddr, settings, callbacks)
}
