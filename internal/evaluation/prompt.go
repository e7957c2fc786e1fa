package evaluation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexiqai/weather-gateway/internal/store"
)

const noUserMessage = "No previous user message found"

// promptInput is everything the evaluator sees about one assistant message
type promptInput struct {
	UserMessage string
	Message     *store.Message
	ToolCalls   []store.ToolCall
}

func (r *Rubric) buildPrompt(in promptInput) string {
	var b strings.Builder

	b.WriteString("Evaluate this weather chatbot interaction:\n\n")
	fmt.Fprintf(&b, "USER QUERY: %q\n\n", in.UserMessage)
	fmt.Fprintf(&b, "BOT RESPONSE: %q\n\n", in.Message.Content)

	b.WriteString("TECHNICAL DETAILS:\n")
	fmt.Fprintf(&b, "- Model: %s\n", in.Message.ModelName)
	fmt.Fprintf(&b, "- Response Time: %dms\n", in.Message.ResponseTimeMs)
	fmt.Fprintf(&b, "- Has Tool Calls: %t\n", len(in.ToolCalls) > 0)
	if len(in.ToolCalls) > 0 {
		b.WriteString("Tool Calls Used:\n")
		for _, tc := range in.ToolCalls {
			b.WriteString(toolCallLine(tc))
			b.WriteByte('\n')
		}
	}
	if in.Message.ErrorOccurred {
		fmt.Fprintf(&b, "Error Occurred: %s\n", in.Message.ErrorMessage)
	}

	b.WriteString("\nEVALUATION CRITERIA:\n")
	b.WriteString("Rate each dimension from 1-10 (where 10 is excellent, 1 is very poor):\n\n")
	for i, d := range r.Dimensions {
		fmt.Fprintf(&b, "%d. %s (1-10): %s\n", i+1, d.Title, d.Question)
		for _, check := range d.Checks {
			fmt.Fprintf(&b, "- %s\n", check)
		}
		b.WriteByte('\n')
	}

	b.WriteString("IMPORTANT: Respond with ONLY valid JSON in this exact format:\n")
	b.WriteString(responseTemplate(r.Dimensions))
	b.WriteString("\n\nThe overall_score should be a weighted average emphasizing ")
	b.WriteString(heaviestDimensions(r.Dimensions))
	b.WriteString(" most heavily.")

	return b.String()
}

// toolCallLine renders "- name(args) → ✅ Success (Nms)"
func toolCallLine(tc store.ToolCall) string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	status := "✅ Success"
	if !tc.Success {
		status = "❌ Failed"
	}
	return fmt.Sprintf("- %s(%s) → %s (%dms)", tc.FunctionName, args, status, tc.ExecutionTimeMs)
}

func responseTemplate(dims []Dimension) string {
	var lines []string
	for _, d := range dims {
		lines = append(lines, fmt.Sprintf("    %q: 8", d.Key+"_score"))
	}
	lines = append(lines, `    "overall_score": 8.0`)
	for _, d := range dims {
		lines = append(lines, fmt.Sprintf("    %q: %q", d.Key+"_explanation", "Brief explanation of "+strings.ReplaceAll(d.Key, "_", " ")+" score"))
	}
	lines = append(lines, `    "overall_feedback": "Concise summary of overall performance and areas for improvement"`)
	return "{\n" + strings.Join(lines, ",\n") + "\n}"
}

func heaviestDimensions(dims []Dimension) string {
	var top float64
	for _, d := range dims {
		if d.Weight > top {
			top = d.Weight
		}
	}
	var names []string
	for _, d := range dims {
		if d.Weight == top {
			names = append(names, strings.ReplaceAll(d.Key, "_", " "))
		}
	}
	return strings.Join(names, " and ")
}
