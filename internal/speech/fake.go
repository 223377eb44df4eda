package speech

import (
	"context"
	"sync"
)

// FakeRecognizer is a scripted Recognizer for tests. Callers emit
// transcripts directly via Emit.
type FakeRecognizer struct {
	mu      sync.Mutex
	results chan Transcript
	written [][]byte
	closed  bool
}

func NewFakeRecognizer() *FakeRecognizer {
	return &FakeRecognizer{results: make(chan Transcript, 32)}
}

func (f *FakeRecognizer) Start(ctx context.Context) error { return nil }

func (f *FakeRecognizer) Write(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	f.written = append(f.written, cp)
	return nil
}

func (f *FakeRecognizer) Results() <-chan Transcript { return f.results }

func (f *FakeRecognizer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}

// Emit pushes a scripted transcript to the consumer.
func (f *FakeRecognizer) Emit(t Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.results <- t
	}
}

// Written returns all audio chunks pushed so far.
func (f *FakeRecognizer) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// FakeSynthesizer yields a fixed set of chunks per request.
type FakeSynthesizer struct {
	Chunks [][]byte
	Err    error

	mu    sync.Mutex
	texts []string
}

func (f *FakeSynthesizer) Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	out := make(chan []byte, len(f.Chunks))
	for _, c := range f.Chunks {
		out <- c
	}
	close(out)
	return out, nil
}

// Texts returns every synthesized text in request order.
func (f *FakeSynthesizer) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}
