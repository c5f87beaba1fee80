package enrich

import (
	_ "embed"
	"os"
	"strings"

	"go.uber.org/zap"
)

// systemPrompt frames every hosted-backend request.
const systemPrompt = "You are an expert at creating structured interview preparation data. Return only valid JSON."

//go:embed prompt_template.txt
var defaultPromptTemplate string

// loadPromptTemplate returns the configured template file's contents, or the
// embedded default when no path is set or the file is unreadable.
func loadPromptTemplate(path string) string {
	if path == "" {
		return defaultPromptTemplate
	}
	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Warn("enrich: prompt template unreadable, using default",
			zap.String("path", path),
			zap.Error(err),
		)
		return defaultPromptTemplate
	}
	return strings.TrimSpace(string(data))
}

// buildFullPrompt composes the single-shot prompt for hosted backends.
func buildFullPrompt(template, question, answer string) string {
	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	if answer != "" {
		b.WriteString("\nAnswer: ")
		b.WriteString(answer)
		b.WriteString("\n\nConvert this into the required JSON format.")
	} else {
		b.WriteString("\n\nGenerate a comprehensive answer and convert into the required JSON format. Create a detailed, interview-ready response.")
	}
	return b.String()
}
