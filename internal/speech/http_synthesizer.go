package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSynthesizerConfig configures the text-to-speech client.
type HTTPSynthesizerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// ChunkBytes controls how the audio body is sliced into stream chunks.
	ChunkBytes int
}

// HTTPSynthesizer requests synthesized speech over HTTP and streams the
// response body out in bounded chunks so the audio bridge can apply
// backpressure without buffering whole utterances.
type HTTPSynthesizer struct {
	cfg        HTTPSynthesizerConfig
	httpClient *http.Client
}

func NewHTTPSynthesizer(cfg HTTPSynthesizerConfig) *HTTPSynthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSynthesizer{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error) {
	body, err := json.Marshal(synthesisRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesis request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech: synthesis failed (status %d): %s", resp.StatusCode, msg)
	}

	chunkBytes := s.cfg.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = 3200 // 400ms of 8kHz mu-law
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			buf := make([]byte, chunkBytes)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}
