package generate

import (
	"strings"

	"github.com/antoniostano/parley/internal/conversation"
)

const spokenStyle = "Your replies are spoken aloud, so answer in a few plain sentences without lists, markdown or links."

// Presets run from 1 (fully collaborative) to 5 (fully adversarial).
var personalityPresets = map[int]string{
	1: "You are a warm, supportive conversation partner. Agree where you honestly can, build on the user's ideas and help them reach their own conclusions.",
	2: "You are a friendly conversation partner. You mostly agree, add useful perspective and gently point out gaps when you see them.",
	3: "You are a balanced conversation partner. Weigh the user's points fairly, agree with what holds up and politely challenge what does not.",
	4: "You are a skeptical debate partner. Question the user's assumptions, ask for evidence and present the strongest counterarguments you know.",
	5: "You are a relentless debate opponent. Take the opposing side of whatever the user argues and press every weakness, while staying civil.",
}

// SystemPrompt returns the custom prompt when set, otherwise the personality preset.
func SystemPrompt(m conversation.ModelConfig) string {
	if custom := strings.TrimSpace(m.SystemPrompt); custom != "" {
		return custom
	}
	level := min(max(m.Personality, conversation.MinPersonality), conversation.MaxPersonality)
	return personalityPresets[level] + " " + spokenStyle
}
