package classify

import (
	"fmt"
	"strings"
)

const (
	defaultWorkList  = "coding, writing, reading documentation, research, work emails, design tools, spreadsheets"
	defaultSlackList = "social media, videos, games, shopping, entertainment, personal browsing"

	userInstruction = "Classify this screenshot. Respond with JSON only."
)

// SystemPrompt builds the classifier instruction from keyword lists and the session goal.
// Empty keyword lists fall back to generic work and slack descriptions.
func SystemPrompt(focusKeywords, distractionKeywords []string, goal string) string {
	workList := quoteList(focusKeywords)
	if workList == "" {
		workList = defaultWorkList
	}
	slackList := quoteList(distractionKeywords)
	if slackList == "" {
		slackList = defaultSlackList
	}

	var b strings.Builder
	b.WriteString("You are analyzing a screenshot to determine if the user is working or slacking off.\n\n")
	b.WriteString("Classify the screenshot as:\n")
	fmt.Fprintf(&b, "- \"work\": productive activity (%s)\n", workList)
	fmt.Fprintf(&b, "- \"slack\": non-work activity (%s)\n\n", slackList)
	b.WriteString("Also categorize the activity into one of these specific categories:\n")
	b.WriteString("- For Slack: \"Social Media\", \"Entertainment\", \"Communication\", \"Shopping\", \"Gaming\", \"Random Browsing\", \"News\", \"Other\"\n")
	b.WriteString("- For Work: \"Coding\", \"Documentation\", \"Design\", \"Meeting\", \"Email\", \"Learning\", \"Other\"\n\n")
	b.WriteString("If the activity is ambiguous (e.g., blank screen, loading), make your best guess based on context or default to \"slack\" if no work is visible.\n\n")
	b.WriteString("Respond with ONLY valid JSON in this exact format:\n")
	b.WriteString(`{"label": "work|slack", "category": "CategoryName", "confidence": 0.0-1.0, "reason": "brief explanation under 120 chars"}`)

	if goal = strings.TrimSpace(goal); goal != "" {
		fmt.Fprintf(&b, "\nUser's current goal: %s", goal)
	}
	return b.String()
}

func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf("%q", item))
	}
	return strings.Join(quoted, ", ")
}
