package pipe

import (
	"encoding/json"
	"fmt"
)

// Message is one turn of the host-side conversation.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is the string-or-parts union used by OpenAI-style
// message bodies: either a plain string or a list of typed parts where
// images arrive as data URLs.
type MessageContent struct {
	Text   string
	Images []string
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

func Text(text string) MessageContent {
	return MessageContent{Text: text}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		c.Text = plain
		c.Images = nil
		return nil
	}

	var parts []contentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("parse message content: %w", err)
	}

	c.Text = ""
	c.Images = nil
	for _, part := range parts {
		switch part.Type {
		case "text":
			c.Text += part.Text
		case "image_url":
			if part.ImageURL != nil {
				c.Images = append(c.Images, part.ImageURL.URL)
			}
		}
	}
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.Images) == 0 {
		return json.Marshal(c.Text)
	}

	parts := []contentPart{{Type: "text", Text: c.Text}}
	for _, url := range c.Images {
		u := url
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &struct {
				URL string `json:"url"`
			}{URL: u},
		})
	}
	return json.Marshal(parts)
}

// popSystemMessage splits off a leading system message, returning its
// content and the remaining messages.
func popSystemMessage(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == "system" {
		return messages[0].Content.Text, messages[1:]
	}
	return "", messages
}
