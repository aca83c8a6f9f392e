// Package blackjack adapts a Blackjack-v1 table to the agent protocol: the
// system prompt, the take_action tool, observation text and action parsing.
package blackjack

import (
	"encoding/json"
	"fmt"
	"strings"

	"distributed-blackjack-rl/internal/env"
	"distributed-blackjack-rl/internal/toolcall"
)

const ToolName = "take_action"

var tools = []toolcall.Tool{
	{
		Type: "function",
		Function: toolcall.Function{
			Name:        ToolName,
			Description: "Choose to 'hit' or 'stick' in Blackjack.",
			Parameters: map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"hit", "stick"}},
			},
		},
	},
}

// Game is stateless; every NewEnv call returns an independent table.
type Game struct {
	Tags []string
}

func NewGame() Game {
	return Game{Tags: []string{toolcall.DefaultTag}}
}

func (Game) NewEnv() env.Env {
	return NewEnv()
}

func (Game) Tools() []toolcall.Tool {
	out := make([]toolcall.Tool, len(tools))
	copy(out, tools)
	return out
}

// DefaultAction is the no-risk action used when the agent's choice is unusable.
func (Game) DefaultAction() int {
	return ActionStick
}

func (Game) FormatObservation(obs env.Observation) string {
	if len(obs) < 3 {
		return fmt.Sprintf("Unrecognized observation: %v.", []int(obs))
	}
	return fmt.Sprintf(
		"Your hand sum is %d. Dealer showing: %d. You have a usable ace: %d.",
		obs[0], obs[1], obs[2],
	)
}

// ParseAction maps an agent response to ActionHit, ActionStick or -1.
func (g Game) ParseAction(response string) int {
	_, args, isError := toolcall.Parse(response, tools, g.Tags)
	if isError {
		return -1
	}
	return g.ActionFromArguments(args)
}

func (Game) ActionFromArguments(args map[string]any) int {
	action, _ := args["action"].(string)
	switch strings.ToLower(action) {
	case "hit":
		return ActionHit
	case "stick":
		return ActionStick
	default:
		return -1
	}
}

func (Game) SystemPrompt() string {
	toolsJSON, _ := json.Marshal(tools)
	var b strings.Builder
	b.WriteString("You are an AI agent playing Blackjack who uses extreme long chains of thought ")
	b.WriteString("to carefully consider the probabilities and optimal strategy. ")
	b.WriteString("You need to decide whether to hit or stick based on your current hand and the dealer's showing card.\n\n")
	b.WriteString("You should enclose your thoughts and internal monologue inside <think> </think> tags, and then ")
	b.WriteString("provide your decision using the take_action function call. You may use extremely long chains ")
	b.WriteString("of thought to carefully consider the probabilities and optimal strategy.\n\n")
	b.WriteString("<tools>\n")
	b.Write(toolsJSON)
	b.WriteString("\n</tools>\n\n")
	b.WriteString("For your function call, return a JSON object with function name and arguments ")
	b.WriteString("within <tool_call> </tool_call> tags with the following schema:\n")
	b.WriteString("<tool_call>\n{\"arguments\": {\"action\": \"hit\"}, \"name\": \"take_action\"}\n</tool_call>\n\n")
	b.WriteString("Your answer format should be:\n")
	b.WriteString("<think>\n")
	b.WriteString("[Your detailed reasoning process about whether to hit or stick]\n")
	b.WriteString("</think>\n\n")
	b.WriteString("<tool_call>\n{\"arguments\": {\"action\": \"stick\"}, \"name\": \"take_action\"}\n</tool_call>\n\n")
	b.WriteString("Remember to carefully consider the probabilities and optimal strategy for Blackjack.")
	return b.String()
}
