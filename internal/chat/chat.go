// Package chat holds the message model shared by the collector and the
// replay buffer, the ChatML prompt template and trainer tokenization.
package chat

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem      Role = "system"
	RoleAgent       Role = "agent"
	RoleEnvironment Role = "environment"
)

// IgnoreIndex marks token positions the trainer must not learn from.
const IgnoreIndex = -100

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Clone returns a copy that shares no backing array with msgs.
func Clone(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Encoder turns text into model token ids.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]int, error)
}

// EncodeLen reports the number of tokens in text.
func EncodeLen(ctx context.Context, enc Encoder, text string) (int, error) {
	ids, err := enc.Encode(ctx, text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

const (
	imStart = "<|im_start|>"
	imEnd   = "<|im_end|>"
)

func templateRole(r Role) string {
	switch r {
	case RoleAgent:
		return "assistant"
	case RoleEnvironment:
		return "user"
	default:
		return string(r)
	}
}

func renderMessage(m Message, open bool) string {
	s := imStart + templateRole(m.Role) + "\n" + m.Content
	if open {
		return s
	}
	return s + imEnd + "\n"
}

// RenderPrompt renders msgs with the ChatML template and leaves the last
// message open so the model continues it.
func RenderPrompt(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		b.WriteString(renderMessage(m, i == len(msgs)-1))
	}
	return b.String()
}

// Render renders a complete conversation.
func Render(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(renderMessage(m, false))
	}
	return b.String()
}

type Tokenized struct {
	Tokens []int `json:"tokens"`
	Masks  []int `json:"masks"`
}

// TokenizeForTrainer encodes msgs segment by segment. Agent tokens are
// trainable and keep their id in Masks; everything else is IgnoreIndex.
func TokenizeForTrainer(ctx context.Context, enc Encoder, msgs []Message) (Tokenized, error) {
	var out Tokenized
	for i, m := range msgs {
		ids, err := enc.Encode(ctx, renderMessage(m, false))
		if err != nil {
			return Tokenized{}, fmt.Errorf("tokenize message %d (%s): %w", i, m.Role, err)
		}
		out.Tokens = append(out.Tokens, ids...)
		for _, id := range ids {
			if m.Role == RoleAgent {
				out.Masks = append(out.Masks, id)
			} else {
				out.Masks = append(out.Masks, IgnoreIndex)
			}
		}
	}
	if out.Tokens == nil {
		out.Tokens, out.Masks = []int{}, []int{}
	}
	return out, nil
}
