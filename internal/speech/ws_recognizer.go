package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSRecognizerConfig configures the streaming recognition connection.
type WSRecognizerConfig struct {
	// URL is the engine's streaming endpoint (wss://...), including any
	// encoding/sample-rate query parameters.
	URL    string
	APIKey string

	DialTimeout time.Duration
	// ResultBuffer bounds the transcript channel.
	ResultBuffer int
}

// WSRecognizer streams audio chunks to a speech engine over a WebSocket and
// decodes transcript messages. The wire format follows the common streaming
// STT shape: binary frames carry audio up, JSON text frames carry results
// down.
type WSRecognizer struct {
	cfg  WSRecognizerConfig
	conn *websocket.Conn

	results chan Transcript

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func NewWSRecognizer(cfg WSRecognizerConfig) *WSRecognizer {
	buf := cfg.ResultBuffer
	if buf <= 0 {
		buf = 16
	}
	return &WSRecognizer{
		cfg:     cfg,
		results: make(chan Transcript, buf),
		closed:  make(chan struct{}),
	}
}

// wsResult is the engine's transcript message.
type wsResult struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Final      bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

func (r *WSRecognizer) Start(ctx context.Context) error {
	timeout := r.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := http.Header{}
	if r.cfg.APIKey != "" {
		header.Set("Authorization", "Token "+r.cfg.APIKey)
	}

	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("speech: recognizer dial: %w", err)
	}
	r.conn = conn

	go r.readLoop()
	return nil
}

func (r *WSRecognizer) readLoop() {
	defer close(r.results)
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var res wsResult
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		if res.Type != "" && res.Type != "transcript" {
			continue
		}
		select {
		case r.results <- Transcript{Text: res.Text, Final: res.Final, Confidence: res.Confidence}:
		case <-r.closed:
			return
		}
	}
}

func (r *WSRecognizer) Write(chunk []byte) error {
	if r.conn == nil {
		return errors.New("speech: recognizer not started")
	}
	select {
	case <-r.closed:
		return errors.New("speech: recognizer closed")
	default:
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (r *WSRecognizer) Results() <-chan Transcript { return r.results }

func (r *WSRecognizer) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		if r.conn != nil {
			r.writeMu.Lock()
			_ = r.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			r.writeMu.Unlock()
			err = r.conn.Close()
		}
	})
	return err
}
