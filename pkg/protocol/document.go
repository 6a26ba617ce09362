package protocol

import "fmt"

// DefaultCategories is the closed set of knowledge-base categories. Each has
// at most one corpus resource.
var DefaultCategories = []string{"billing", "technical", "security", "general"}

// Document is a knowledge-base entry. Documents are loaded once at startup
// and never mutated.
type Document struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Content  string `json:"content"`
	Source   string `json:"source,omitempty"`
}

// DocumentID builds the stable identifier for the n-th document of a category.
func DocumentID(category string, n int) string {
	return fmt.Sprintf("%s#%d", category, n)
}
