package channel

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/yoockh/dmcommerce/internal/models"
)

type Sender interface {
	// Send delivers one plan and returns the platform message id.
	Send(ctx context.Context, receiverID string, plan models.OutboundPlan) (string, error)
}

type HTTPSender struct {
	gw gateway
}

func NewHTTPSender(baseURL, apiKey string, httpClient *http.Client) *HTTPSender {
	return &HTTPSender{gw: newGateway(baseURL, apiKey, httpClient)}
}

func (s *HTTPSender) Send(ctx context.Context, receiverID string, plan models.OutboundPlan) (string, error) {
	path, payload := endpointFor(receiverID, plan)
	data, err := s.gw.post(ctx, path, payload)
	if err != nil {
		return "", err
	}
	return messageID(data), nil
}

// endpointFor maps a plan to its gateway path and body.
func endpointFor(receiverID string, plan models.OutboundPlan) (string, map[string]any) {
	body := map[string]any{"receiver_id": receiverID}
	switch plan.Type {
	case models.PlanButton:
		body["text"] = plan.Text
		body["buttons"] = plan.Buttons
		return "/send/button-text", body
	case models.PlanQuickReply:
		body["text"] = plan.Text
		body["quick_replies"] = plan.QuickReplies
		return "/send/quick-reply", body
	case models.PlanGenericTemplate:
		body["elements"] = plan.Elements
		return "/send/generic-template", body
	case models.PlanPhoto:
		body["image_url"] = plan.MediaURL
		return "/send/photo", body
	case models.PlanVideo:
		body["video_url"] = plan.MediaURL
		return "/send/video", body
	case models.PlanAudio:
		body["audio_url"] = plan.MediaURL
		return "/send/audio", body
	}
	body["text"] = plan.Text
	return "/send/text", body
}

// messageID reads message_id at the top level or under data.
func messageID(data map[string]any) string {
	read := func(m map[string]any) string {
		switch v := m["message_id"].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	if id := read(data); id != "" {
		return id
	}
	if inner, ok := data["data"].(map[string]any); ok {
		return read(inner)
	}
	return ""
}
