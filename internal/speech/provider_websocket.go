package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/credentials"
)

type wsProvider struct {
	cfg   config.SpeechConfig
	creds credentials.Store
	rate  int
}

type wsRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

type wsControl struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// NewWebSocketProvider streams synthesis from a remote endpoint. Binary
// frames carry PCM; a text frame with event "done" (or the server closing)
// ends the stream. The API key is resolved per utterance so rotation does
// not require a restart.
func NewWebSocketProvider(cfg config.SpeechConfig, creds credentials.Store, sampleRate int) Provider {
	return &wsProvider{cfg: cfg, creds: creds, rate: sampleRate}
}

func (w *wsProvider) OpenStream(ctx context.Context, text, voice string) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		key, err := w.creds.Get(w.cfg.APIKeyName)
		if err != nil {
			errs <- err
			return
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+key)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.Endpoint, header)
		if err != nil {
			if resp != nil {
				errs <- fmt.Errorf("dial speech endpoint: %w (status %d)", err, resp.StatusCode)
			} else {
				errs <- fmt.Errorf("dial speech endpoint: %w", err)
			}
			return
		}
		defer conn.Close()

		// Tear the connection down when the caller cancels so a blocked
		// ReadMessage returns.
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		req := wsRequest{Text: text, Voice: voice, SampleRate: w.rate, Encoding: "pcm_s16le"}
		payload, err := json.Marshal(req)
		if err != nil {
			errs <- err
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			errs <- fmt.Errorf("send speech request: %w", err)
			return
		}

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					errs <- ctx.Err()
					return
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				errs <- fmt.Errorf("read speech stream: %w", err)
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				if len(data) == 0 {
					continue
				}
				select {
				case chunks <- data:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			case websocket.TextMessage:
				var ctl wsControl
				if err := json.Unmarshal(data, &ctl); err != nil {
					errs <- fmt.Errorf("decode speech control frame: %w", err)
					return
				}
				if ctl.Error != "" {
					errs <- fmt.Errorf("speech endpoint error: %s", ctl.Error)
					return
				}
				if ctl.Event == "done" {
					return
				}
			}
		}
	}()
	return chunks, errs
}
