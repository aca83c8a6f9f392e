package inference

import (
	"encoding/json"
	"errors"
)

type choiceKind uint8

const (
	kindText choiceKind = iota
	kindMessage
)

// Choice is one sampled completion. Completion endpoints return plain text,
// chat endpoints return a message; both read through Content.
type Choice struct {
	kind    choiceKind
	text    string
	role    string
	content string
}

func TextChoice(text string) Choice {
	return Choice{kind: kindText, text: text}
}

func MessageChoice(role, content string) Choice {
	return Choice{kind: kindMessage, role: role, content: content}
}

func (c Choice) Content() string {
	if c.kind == kindMessage {
		return c.content
	}
	return c.text
}

func (c Choice) IsMessage() bool {
	return c.kind == kindMessage
}

// Role is empty for text choices.
func (c Choice) Role() string {
	return c.role
}

type wireChoice struct {
	Text    *string `json:"text,omitempty"`
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message,omitempty"`
}

var errEmptyChoice = errors.New("choice has neither text nor message")

func (c *Choice) UnmarshalJSON(data []byte) error {
	var w wireChoice
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Text != nil:
		*c = TextChoice(*w.Text)
	case w.Message != nil:
		*c = MessageChoice(w.Message.Role, w.Message.Content)
	default:
		return errEmptyChoice
	}
	return nil
}

func (c Choice) MarshalJSON() ([]byte, error) {
	if c.kind == kindMessage {
		return json.Marshal(map[string]any{
			"message": map[string]string{"role": c.role, "content": c.content},
		})
	}
	return json.Marshal(map[string]string{"text": c.text})
}
