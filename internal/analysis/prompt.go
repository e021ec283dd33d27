package analysis

import (
	"fmt"
	"strings"

	"github.com/callscope/backend/internal/models"
)

const reportShape = `Respond with a single JSON object with the fields:
summary, topic, category, keyPoints[], customerSatisfaction (1-5), sentiment (positive|neutral|negative),
sentimentScore (-1..1), sentimentTimeline[{time (0..1), score, label}], emotions[{emotion, intensity, timestamp, speaker}],
agentScore, empathy, clarity, resolution, professionalism (each 1-5), strengths[], improvements[],
recommendations[], riskLevel (low|medium|high), resolved (bool).`

func callHeader(call models.CallRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer: %s\n", call.CustomerName)
	fmt.Fprintf(&b, "Phone: %s\n", call.PhoneNumber)
	fmt.Fprintf(&b, "Agent: %s (%s)\n", call.AgentName, call.AgentType)
	fmt.Fprintf(&b, "Duration: %d seconds\n", int(call.DurationSeconds))
	fmt.Fprintf(&b, "Started: %s\n", call.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Status: %s\n", call.Status)
	for i, step := range call.Journey {
		fmt.Fprintf(&b, "Step %d: %s (%s), %d seconds", i+1, step.AgentName, step.AgentType, int(step.DurationSeconds))
		if step.HandoffReason != "" {
			fmt.Fprintf(&b, ", handoff: %s", step.HandoffReason)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func textPrompt(call models.CallRecord) string {
	var b strings.Builder
	b.WriteString("Analyze this customer service call.\n\n")
	b.WriteString(callHeader(call))
	if call.Transcript.FullText != "" {
		b.WriteString("\nTranscript:\n")
		b.WriteString(call.Transcript.FullText)
		b.WriteByte('\n')
	} else {
		b.WriteString("\nNo transcript is available.\n")
	}
	b.WriteString("\n")
	b.WriteString(reportShape)
	return b.String()
}

func audioPrompt(call models.CallRecord) string {
	return "Analyze the attached recording of this customer service call.\n\n" + callHeader(call) + "\n" + reportShape
}
