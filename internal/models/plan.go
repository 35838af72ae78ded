package models

import "strings"

type PlanType string

const (
	PlanText            PlanType = "text"
	PlanButton          PlanType = "button"
	PlanQuickReply      PlanType = "quick_reply"
	PlanGenericTemplate PlanType = "generic_template"
	PlanPhoto           PlanType = "photo"
	PlanVideo           PlanType = "video"
	PlanAudio           PlanType = "audio"
)

type ButtonType string

const (
	ButtonWebURL   ButtonType = "web_url"
	ButtonPostback ButtonType = "postback"
)

type Button struct {
	Type    ButtonType `json:"type"`
	Title   string     `json:"title"`
	URL     string     `json:"url,omitempty"`
	Payload string     `json:"payload,omitempty"`
}

// Complete reports whether the button can be sent: a title plus a URL or
// a payload.
func (b Button) Complete() bool {
	return strings.TrimSpace(b.Title) != "" && (b.URL != "" || b.Payload != "")
}

type QuickReplyOption struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type TemplateElement struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []Button `json:"buttons,omitempty"`
}

// OutboundPlan is one channel-agnostic outbound message. Type selects which
// of the variant fields apply:
//
//	text              Text
//	button            Text, Buttons
//	quick_reply       Text, QuickReplies
//	generic_template  Elements
//	photo|video|audio MediaURL, Text as caption fallback
type OutboundPlan struct {
	Type         PlanType           `json:"type"`
	Text         string             `json:"text,omitempty"`
	Buttons      []Button           `json:"buttons,omitempty"`
	QuickReplies []QuickReplyOption `json:"quick_replies,omitempty"`
	Elements     []TemplateElement  `json:"elements,omitempty"`
	MediaURL     string             `json:"media_url,omitempty"`
}

func TextPlan(text string) OutboundPlan {
	return OutboundPlan{Type: PlanText, Text: text}
}

// PlainText is the text shown when the plan is demoted to a text message.
// It is empty when nothing textual can be derived.
func (p OutboundPlan) PlainText() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	if p.Type == PlanGenericTemplate {
		lines := make([]string, 0, len(p.Elements))
		for _, el := range p.Elements {
			if el.Title == "" {
				continue
			}
			line := el.Title
			if el.Subtitle != "" {
				line += " - " + el.Subtitle
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// MessageType is the stored message type for a sent plan.
func (p OutboundPlan) MessageType() MessageType {
	switch p.Type {
	case PlanButton:
		return MessageButton
	case PlanQuickReply:
		return MessageQuickReply
	case PlanGenericTemplate:
		return MessageGenericTemplate
	case PlanPhoto:
		return MessagePhoto
	case PlanVideo:
		return MessageVideo
	case PlanAudio:
		return MessageAudio
	}
	return MessageText
}
