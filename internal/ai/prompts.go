package ai

import "strings"

// ---------------------------------------------------------------------------
// Prompt templates
// ---------------------------------------------------------------------------

const (
	summarySystemPrompt = "You are a concise, insightful data analyst."
	summaryUserPrompt   = "Summarize the key trends, anomalies, or interesting insights (≤60 words) from the following JSON data:\n"
)

// SummaryPrompt asks for a short natural-language summary of a JSON
// encoded window of samples.
func SummaryPrompt(samplesJSON []byte) []Message {
	var user strings.Builder
	user.Grow(len(summaryUserPrompt) + len(samplesJSON))
	user.WriteString(summaryUserPrompt)
	user.Write(samplesJSON)

	return BuildConversation(summarySystemPrompt, Message{
		Role:    RoleUser,
		Content: user.String(),
	})
}
