package generate

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kioku/internal/model"
)

// PromptTemplate is a typed prompt: named slots instead of string
// interpolation at call sites, so sanitisation and rendering live in one
// place.
type PromptTemplate struct {
	Name         string
	Persona      string
	Task         string
	ContextLabel string
	Instructions []string
	AnswerPrefix string
}

// Render assembles the full prompt around a sanitised query and a context
// block built by BuildContext.
func (t PromptTemplate) Render(query, context string) string {
	var b strings.Builder
	b.WriteString(t.Persona)
	b.WriteString("\nYour job: ")
	b.WriteString(t.Task)
	b.WriteString("\n\nUSER QUERY:\n")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(t.ContextLabel)
	b.WriteString(":\n")
	b.WriteString(context)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	for _, ins := range t.Instructions {
		b.WriteString("- ")
		b.WriteString(ins)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(t.AnswerPrefix)
	return b.String()
}

const persona = "You are Kioku, a senior payments incident engineer."

// TemplateSimple answers single-intent troubleshooting queries with a
// one-sentence fix.
var TemplateSimple = PromptTemplate{
	Name:         "simple",
	Persona:      persona,
	Task:         "Use the provided context to generate a concise, actionable fix suggestion.",
	ContextLabel: "CONTEXT (Past Incidents)",
	Instructions: []string{
		`Generate a 1-sentence fix starting with "Fix Suggestion: "`,
		"Base your answer ONLY on the provided context and cite the incident id behind every claim",
		`If the context is not relevant, reply "No relevant past incidents found for this specific issue." and stop`,
		"Never invent information that is not in the context",
		"Prioritize incidents with higher similarity scores and matching tags",
	},
	AnswerPrefix: "Fix Suggestion:",
}

// TemplateComplex answers analytical queries with a structured
// cause/resolution/prevention breakdown across incidents.
var TemplateComplex = PromptTemplate{
	Name:         "complex",
	Persona:      persona,
	Task:         "Analyze multiple past incidents to provide comprehensive troubleshooting guidance.",
	ContextLabel: "CONTEXT (Multiple Past Incidents)",
	Instructions: []string{
		"Provide a structured analysis based on the incidents above",
		"Include: 1) Root cause patterns, 2) Step-by-step resolution, 3) Prevention measures",
		"Base your answer ONLY on the provided context and cite the incident id behind every claim",
		"If no clear patterns emerge, focus on the most relevant incident",
		"Never invent information that is not in the context",
		`Format as: "Analysis: [root cause] | Resolution: [steps] | Prevention: [measures]"`,
	},
	AnswerPrefix: "Analysis:",
}

// ForComplexity returns the registered template for a query complexity.
func ForComplexity(c model.Complexity) PromptTemplate {
	if c == model.ComplexityComplex {
		return TemplateComplex
	}
	return TemplateSimple
}

// contextSeparator divides incident blocks inside the prompt.
var contextSeparator = "\n" + strings.Repeat("-", 50) + "\n"

// BuildContext formats the admitted candidates into the evidence block
// the templates expect: one numbered section per incident with its id,
// bounded text fields, tags, and fused score.
func BuildContext(incidents []model.RetrievedIncident) string {
	blocks := make([]string, len(incidents))
	for i, in := range incidents {
		blocks[i] = fmt.Sprintf(
			"INCIDENT %d:\nID: %s\nTitle: %s\nDescription: %s\nResolution: %s\nTags: %s\nSimilarity Score: %.3f",
			i+1,
			in.ID,
			in.Title,
			model.Truncate(in.Description, model.PayloadTextLimit),
			model.Truncate(in.Resolution, model.PayloadTextLimit),
			strings.Join(in.Tags, ", "),
			in.FusedScore,
		)
	}
	return strings.Join(blocks, contextSeparator)
}
