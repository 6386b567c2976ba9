package httpadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/codec"
	"github.com/offlinekit/offlinekit/errors"
)

const (
	wsReadLimit  = 1 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// SubscribeRemote connects to the remote change feed over WebSocket and
// invokes handler for each received envelope. It blocks until ctx is
// cancelled or the connection fails; the coordinator owns reconnection.
func (a *Adapter) SubscribeRemote(ctx context.Context, handler func(offlinekit.ChangeEnvelope) error) error {
	wsURL := httpToWS(a.baseURL) + watchPath

	header := map[string][]string{}
	if a.token != "" {
		header["Authorization"] = []string{"Bearer " + a.token}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return errors.NewFatal(errors.OpPull, fmt.Errorf("watch dial rejected: %w", err))
		}
		return errors.NewTransient(errors.OpPull, fmt.Errorf("watch dial: %w", err))
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Close the connection when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.NewTransient(errors.OpPull, fmt.Errorf("watch read: %w", err))
		}
		env, err := codec.Unmarshal(data)
		if err != nil {
			a.logger.Warn("skipping malformed watch message", "error", err)
			continue
		}
		if err := handler(env); err != nil {
			return err
		}
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
