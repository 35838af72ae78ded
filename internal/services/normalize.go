package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

// InboundEvent is a webhook payload reduced to what the pipeline reads.
type InboundEvent struct {
	SenderID      string
	ReceiverID    string
	MessageID     string
	Type          models.MessageType
	Text          string
	MediaURL      string
	AudioURL      string
	IsAdmin       bool
	ReadMessageID string
	Timestamp     time.Time
	Raw           map[string]any
}

var inboundTypes = map[string]models.MessageType{
	"text":        models.MessageText,
	"quick_reply": models.MessageText,
	"postback":    models.MessageText,
	"button":      models.MessageText,
	"interactive": models.MessageText,
	"image":       models.MessageMedia,
	"photo":       models.MessageMedia,
	"picture":     models.MessageMedia,
	"video":       models.MessageMedia,
	"media":       models.MessageMedia,
	"audio":       models.MessageAudio,
	"voice":       models.MessageAudio,
	"read":        models.MessageRead,
}

// DecodeWebhook parses a raw webhook body and normalizes it.
func DecodeWebhook(body []byte) (*InboundEvent, error) {
	const op = "DecodeWebhook"

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "payload is not a JSON object", err)
	}
	return NormalizeWebhook(raw)
}

// NormalizeWebhook validates the payload and maps the channel's message
// types onto text, media, audio and read.
func NormalizeWebhook(raw map[string]any) (*InboundEvent, error) {
	const op = "NormalizeWebhook"

	if raw == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "empty payload", nil)
	}
	sender := stringField(raw["sender"])
	receiver := stringField(raw["receiver"])
	rawType := strings.ToLower(stringField(raw["message_type"]))
	if sender == "" || receiver == "" || rawType == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "sender, receiver and message_type are required", nil)
	}
	typ, ok := inboundTypes[rawType]
	if !ok {
		return nil, utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("unsupported message_type %q", rawType), nil)
	}

	ev := &InboundEvent{
		SenderID:   sender,
		ReceiverID: receiver,
		MessageID:  stringField(raw["message_id"]),
		Type:       typ,
		Text:       extractText(raw),
		IsAdmin:    truthy(raw["is_admin"]) || truthy(raw["admin_is"]),
		Timestamp:  parseTimestamp(raw["timestamp"]),
		Raw:        raw,
	}

	if media, ok := raw["media"].(map[string]any); ok {
		url := stringField(media["url"])
		if strings.EqualFold(stringField(media["type"]), "audio") || typ == models.MessageAudio {
			ev.AudioURL = url
		} else {
			ev.MediaURL = url
		}
	}
	if typ == models.MessageRead {
		if read, ok := raw["read"].(map[string]any); ok {
			ev.ReadMessageID = stringField(read["message_id"])
		}
	}
	return ev, nil
}

// extractText walks text, payload, quick_reply, postback then message.
func extractText(raw map[string]any) string {
	if s := stringField(raw["text"]); s != "" {
		return s
	}
	if s, ok := raw["payload"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for _, key := range []string{"quick_reply", "postback"} {
		if obj, ok := raw[key].(map[string]any); ok {
			if s := utils.FirstNonEmpty(stringField(obj["payload"]), stringField(obj["title"])); s != "" {
				return s
			}
		}
	}
	if s, ok := raw["message"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// parseTimestamp accepts unix seconds, unix milliseconds and RFC3339. A
// missing or unreadable value yields the zero time.
func parseTimestamp(v any) time.Time {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			f = n
			break
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC()
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
	if f <= 0 {
		return time.Time{}
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
