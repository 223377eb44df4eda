package speech

import "context"

// Transcript is one recognition event from the speech engine.
// Partial transcripts refine the in-progress utterance; a Final transcript
// marks end of utterance and commits the text.
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
}

// Recognizer streams caller audio in and transcription events out.
//
// Write pushes one encoded audio chunk; Results delivers transcripts in
// order until the stream is closed or the context is cancelled.
type Recognizer interface {
	Start(ctx context.Context) error
	Write(chunk []byte) error
	Results() <-chan Transcript
	Close() error
}

// Synthesizer turns agent text into a stream of encoded audio chunks.
// The returned channel is closed after the last chunk; synthesis is
// cancelled with the context.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error)
}

// RecognizerFactory opens a fresh recognition stream per call.
type RecognizerFactory func(ctx context.Context) (Recognizer, error)
