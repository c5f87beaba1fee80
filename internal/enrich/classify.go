package enrich

import "strings"

// classifyQuestion assigns a category triple from keyword heuristics. It is
// the fallback when the backend never produces a usable classification, so a
// record is never blocked on the triple alone.
func classifyQuestion(question string) (category, subcategory, difficulty string) {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "angular"):
		category, subcategory = "Frameworks", "Angular"
	case strings.Contains(q, "react"):
		category, subcategory = "Frameworks", "React"
	case strings.Contains(q, "html"):
		category, subcategory = "HTML", "Tags"
		if strings.Contains(q, "form") {
			subcategory = "Forms"
		}
	case strings.Contains(q, "css"):
		category, subcategory = "CSS", "Styling"
	case strings.Contains(q, "javascript") || strings.Contains(q, " js "):
		category, subcategory = "JavaScript", "General"
	default:
		category, subcategory = "Web Development", "General"
	}

	return category, subcategory, "Intermediate"
}
