package stt

import "context"

type Provider interface {
	// Transcribe returns the best transcript of audio. contentType picks
	// the decoder; language is a BCP-47 code such as "fa-IR".
	Transcribe(ctx context.Context, audio []byte, contentType, language string) (text string, confidence float64, err error)
	Close() error
}
