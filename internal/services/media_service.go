package services

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/media"
	"github.com/yoockh/dmcommerce/internal/providers/stt"
	"github.com/yoockh/dmcommerce/internal/storage"

	"github.com/sirupsen/logrus"
)

type MediaConfig struct {
	Language string
	Timeout  time.Duration
	MaxBytes int64
}

// MediaResult is what came out of an attachment. Both fields may be empty.
type MediaResult struct {
	Transcript  string
	Confidence  float64
	ArchivePath string
}

// MediaService downloads an inbound attachment once, archives it and, for
// audio, transcribes it. Every step is best-effort.
type MediaService interface {
	Process(ctx context.Context, conversationID, messageID string, ev *InboundEvent) MediaResult
}

type mediaService struct {
	http     *http.Client
	stt      stt.Provider
	uploader storage.Uploader
	cfg      MediaConfig
	log      *logrus.Logger
	now      func() time.Time
}

// NewMediaService accepts a nil transcriber or uploader; the matching step
// is then skipped.
func NewMediaService(client *http.Client, transcriber stt.Provider, uploader storage.Uploader, cfg MediaConfig, log *logrus.Logger) MediaService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = media.MaxBytes
	}
	if cfg.Language == "" {
		cfg.Language = "fa-IR"
	}
	return &mediaService{
		http: client, stt: transcriber, uploader: uploader, cfg: cfg, log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *mediaService) Process(ctx context.Context, conversationID, messageID string, ev *InboundEvent) MediaResult {
	var out MediaResult
	if ev == nil {
		return out
	}
	isAudio := ev.Type == models.MessageAudio || ev.AudioURL != ""
	url := ev.MediaURL
	if isAudio {
		url = ev.AudioURL
	}
	wantSTT := isAudio && s.stt != nil
	if url == "" || (!wantSTT && s.uploader == nil) {
		return out
	}

	log := s.log.WithFields(logrus.Fields{"conversation_id": conversationID, "message_id": messageID})
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, contentType, err := media.Fetch(ctx, s.http, url, s.cfg.MaxBytes)
	if err != nil {
		log.WithError(err).Warn("media download failed")
		return out
	}

	if s.uploader != nil {
		name := storage.MediaObjectName(s.now(), conversationID, messageID, contentType)
		path, err := s.uploader.Upload(ctx, name, contentType, bytes.NewReader(body))
		if err != nil {
			log.WithError(err).Warn("media archive failed")
		} else {
			out.ArchivePath = path
		}
	}

	if wantSTT {
		text, conf, err := s.stt.Transcribe(ctx, body, contentType, s.cfg.Language)
		if err != nil {
			log.WithError(err).Warn("transcription failed")
			return out
		}
		out.Transcript, out.Confidence = strings.TrimSpace(text), conf
		log.WithField("confidence", conf).Info("audio transcribed")
	}
	return out
}
