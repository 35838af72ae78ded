package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

type GoogleSpeech struct {
	c *speech.Client
}

func NewGoogleSpeech(ctx context.Context, credentialsFile string) (*GoogleSpeech, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{c: c}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// encodingFor maps a media content type to a recognizer encoding and sample
// rate. WAV and FLAC carry their own header, so both stay unspecified.
func encodingFor(contentType string) (speechpb.RecognitionConfig_AudioEncoding, int32) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "ogg"), strings.Contains(ct, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS, 48000
	case strings.Contains(ct, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000
	case strings.Contains(ct, "amr"):
		return speechpb.RecognitionConfig_AMR, 8000
	case strings.Contains(ct, "l16"), strings.Contains(ct, "pcm"):
		return speechpb.RecognitionConfig_LINEAR16, 16000
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0
}

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte, contentType, language string) (string, float64, error) {
	if language == "" {
		language = "fa-IR"
	}
	enc, rate := encodingFor(contentType)

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			SampleRateHertz:            rate,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", 0, err
	}

	// results are consecutive segments; keep the best alternative of each
	var parts []string
	var confSum float64
	for _, r := range resp.Results {
		var best *speechpb.SpeechRecognitionAlternative
		for _, alt := range r.Alternatives {
			if alt.Transcript == "" {
				continue
			}
			if best == nil || alt.Confidence > best.Confidence {
				best = alt
			}
		}
		if best != nil {
			parts = append(parts, strings.TrimSpace(best.Transcript))
			confSum += float64(best.Confidence)
		}
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), confSum / float64(len(parts)), nil
}
