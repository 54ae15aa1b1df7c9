package llm

import (
	"strings"
)

const recommendationMarker = "Recommendation:"

// systemMessage constrains the model to gap analysis over the supplied data
const systemMessage = "You only give advice based on the gaps found in trade data. " +
	"Your primary role is to identify and analyze gaps such as price discrepancies, volume anomalies, timing irregularities, or missing data points. " +
	"You do not make predictions or provide general financial advice. Your insights are solely focused on explaining the causes and implications of these gaps, " +
	"offering strategic responses, and highlighting potential opportunities or risks associated with them."

// BuildPrompt wraps an analysis context in the recommendation instruction
func BuildPrompt(contextText string) string {
	var sb strings.Builder
	sb.Grow(len(contextText) + 256)
	sb.WriteString("Based on the following trading patterns, sentiment insights, and market context, ")
	sb.WriteString("provide actionable trading advice:\n")
	sb.WriteString(strings.TrimSpace(contextText))
	sb.WriteString("\n")
	sb.WriteString(recommendationMarker)
	return sb.String()
}

// ExtractRecommendation keeps the text after the last marker, if the model echoed the prompt
func ExtractRecommendation(generated string) string {
	if i := strings.LastIndex(generated, recommendationMarker); i >= 0 {
		generated = generated[i+len(recommendationMarker):]
	}
	return strings.TrimSpace(generated)
}
