package pipeline

import "fmt"

func classifyPrompt(subject, description string) string {
	return fmt.Sprintf("Classify this support issue into one category: Billing, Technical, Security, or General.\n\n"+
		"Subject: %s\nDescription: %s", subject, description)
}

func draftPrompt(subject, description, context string) string {
	return fmt.Sprintf("Write a short and helpful customer support response (3–4 lines max) based on the following info:\n\n"+
		"Subject: %s\nDescription: %s\nContext:\n%s\n\n"+
		"Be polite but avoid unnecessary details. Focus only on the solution.", subject, description, context)
}

func reviewPrompt(draft string) string {
	return fmt.Sprintf("You are a support quality checker. Review this draft:\n\n"+
		"Draft:\n%s\n\n"+
		"If it's good, respond with 'Approved'. If not, respond with 'Rejected: <reason>'.", draft)
}
