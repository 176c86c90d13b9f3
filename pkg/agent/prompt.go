package agent

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/chatpilot/pkg/model"
)

const basePrompt = "You are a helpful and personalized AI assistant. Your goal is to provide " +
	"relevant, engaging responses tailored to the user's interests and context."

const promptInstructions = "\n\nProvide responses in Markdown format. Be conversational, helpful, " +
	"and personalize your responses based on the user's interests and context. " +
	"If you need current information, use the web_search function."

// BuildSystemPrompt assembles the personalized system prompt from the
// user's context. The previous-conversation summary is only included for
// returning users; a first turn has nothing to summarize.
func BuildSystemPrompt(uc *model.UserContext, isFirstMessage bool) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if uc.ChatInterest != "" {
		fmt.Fprintf(&sb, "\n###The user is interested in: %s", uc.ChatInterest)
	}
	if len(uc.Topics) > 0 {
		fmt.Fprintf(&sb, "\n###The user's topics of interest include: %s", strings.Join(uc.Topics, ", "))
	}
	if uc.Birthdate != "" {
		fmt.Fprintf(&sb, "\n###User's birthdate: %s", uc.Birthdate)
	}
	if !isFirstMessage && uc.UserSummary != "" {
		fmt.Fprintf(&sb, "\n\n**Previous conversation summary:**\n%s", uc.UserSummary)
	}

	sb.WriteString(promptInstructions)
	return sb.String()
}
