package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/callscope/backend/internal/models"
	"github.com/callscope/backend/internal/utils"
)

type topicRule struct {
	keywords  []string
	topic     string
	keyPoints []string
}

var topicRules = []topicRule{
	{[]string{"fatura", "ödeme", "invoice", "bill", "payment"}, "Billing and Payments", []string{"Invoice details were shared", "Payment options were explained"}},
	{[]string{"tarife", "paket", "tariff", "plan", "package"}, "Plan Change", []string{"Current plan details were given", "Alternative packages were offered"}},
	{[]string{"internet", "modem", "bağlantı", "connection"}, "Technical Support", []string{"Technical issue was identified", "Resolution steps were shared"}},
	{[]string{"iptal", "kapatma", "cancel"}, "Cancellation", []string{"Cancellation procedure was explained", "Customer was informed"}},
	{[]string{"kampanya", "indirim", "campaign", "discount"}, "Campaign Information", []string{"Current campaigns were shared", "Offers were presented"}},
	{[]string{"numara", "hat", "number", "line"}, "Line Services", []string{"Line status was checked", "Operation details were explained"}},
}

var agentTopics = map[models.AgentType]topicRule{
	models.AgentTechnical: {topic: "Technical Support", keyPoints: []string{"Technical support was provided", "Resolution suggestions were offered"}},
	models.AgentSales:     {topic: "Sales and Campaigns", keyPoints: []string{"Product information was shared", "Sales opportunities were evaluated"}},
	models.AgentSupport:   {topic: "Customer Service", keyPoints: []string{"Customer request was received", "Support was provided"}},
}

func baseAgentScore(t models.AgentType) float64 {
	switch t {
	case models.AgentOrchestrator:
		return 4.2
	case models.AgentTechnical:
		return 4.5
	case models.AgentSales:
		return 4.0
	default:
		return 4.1
	}
}

func unit(callID, salt string) float64 {
	return utils.StableUnit(callID, salt)
}

// spread returns a value in [-width/2, width/2).
func spread(callID, salt string, width float64) float64 {
	return unit(callID, salt)*width - width/2
}

func detectTopic(call models.CallRecord) topicRule {
	text := strings.ToLower(call.Transcript.FullText)
	if text != "" {
		for _, r := range topicRules {
			for _, k := range r.keywords {
				if strings.Contains(text, k) {
					return r
				}
			}
		}
		return topicRule{topic: "General Support", keyPoints: []string{"Customer was supported"}}
	}
	if r, ok := agentTopics[call.AgentType]; ok {
		return r
	}
	return topicRule{topic: "General Support", keyPoints: []string{"Customer was supported"}}
}

// Synthesize derives plausible analytics from duration, agent type and
// transcript keywords. The same call always yields the same result.
func Synthesize(call models.CallRecord) models.Analytics {
	duration := int(math.Max(0, call.DurationSeconds))
	long := duration > 300
	short := duration < 60

	rule := detectTopic(call)
	keyPoints := append([]string(nil), rule.keyPoints...)

	var satisfaction float64
	switch {
	case short:
		satisfaction = 3.5 + unit(call.ID, "csat")*1.5
	case long:
		satisfaction = 2.5 + unit(call.ID, "csat")*2
	default:
		satisfaction = 3 + unit(call.ID, "csat")*2
	}
	satisfaction = math.Round(satisfaction*100) / 100

	if long {
		keyPoints = append(keyPoints, "Detailed explanations were given")
	} else {
		keyPoints = append(keyPoints, "Resolved quickly")
	}
	overall := models.SentimentNeutral
	switch {
	case satisfaction > 4:
		keyPoints = append(keyPoints, "Customer was satisfied")
		overall = models.SentimentPositive
	case satisfaction < 3:
		keyPoints = append(keyPoints, "Customer satisfaction was low")
		overall = models.SentimentNegative
	}

	breakdown := models.SentimentBreakdown{Positive: 0.3, Negative: 0.1, Neutral: 0.6}
	if satisfaction > 4 {
		breakdown.Positive = 0.7
	}
	if satisfaction < 3 {
		breakdown.Negative = 0.5
	}
	topicSentiment := models.SentimentNeutral
	if satisfaction > 4 {
		topicSentiment = models.SentimentPositive
	}

	followUp := models.ActionItem{ID: fmt.Sprintf("action_%s_1", call.ID), Description: "Send a satisfaction survey", Priority: "medium"}
	if long {
		followUp.Description = "Follow up with the customer"
		followUp.Priority = "high"
	}
	second := models.ActionItem{ID: fmt.Sprintf("action_%s_2", call.ID), Description: "Document the successful resolution", Priority: "low"}
	if satisfaction < 3 {
		second.Description = "Create a customer experience improvement plan"
		second.Priority = "high"
	}

	base := baseAgentScore(call.AgentType)
	score := func(salt string, width float64) int {
		return clampScore(int(math.Round((base + spread(call.ID, salt, width)) * 20)))
	}
	strengths := []string{"Professional approach", "Detailed information"}
	if short {
		strengths[1] = "Fast resolution"
	}
	improvements := []string{}
	if long {
		improvements = append(improvements, "Shorter resolution times")
	}

	risks := []models.RiskFactor{}
	if satisfaction < 3 {
		risks = append(risks, models.RiskFactor{
			Type:           "churn",
			Severity:       "medium",
			Description:    "Low customer satisfaction",
			Recommendation: "Proactive customer contact is recommended",
		})
	}

	return models.Analytics{
		ID:        AnalyticsID(call.ID, SourceSynthetic),
		CallID:    call.ID,
		Summary:   fmt.Sprintf("%s received %s. The call lasted %d minutes %d seconds.", call.CustomerName, strings.ToLower(rule.topic), duration/60, duration%60),
		KeyPoints: keyPoints,
		Sentiment: models.SentimentAnalysis{
			Overall:   overall,
			Score:     math.Round(satisfaction/5*100) / 100,
			Timeline:  []models.SentimentPoint{},
			Breakdown: breakdown,
		},
		Emotions: []models.Emotion{},
		Topics: []models.Topic{{
			Name:      rule.topic,
			Relevance: 0.9,
			Sentiment: topicSentiment,
			Mentions:  int(math.Ceil(float64(duration) / 60)),
		}},
		ActionItems:          []models.ActionItem{followUp, second},
		CustomerSatisfaction: satisfaction,
		AgentPerformance: models.AgentPerformance{
			OverallScore:         score("overall", 0.5),
			EmpathyScore:         score("empathy", 0.6),
			ClarityScore:         score("clarity", 0.4),
			ResolutionScore:      score("resolution", 0.5),
			ProfessionalismScore: clampScore(int(math.Round((base + 0.2) * 20))),
			Strengths:            strengths,
			Improvements:         improvements,
		},
		RiskFactors:  risks,
		Source:       SourceSynthetic,
		ModelVersion: "synthetic-v1",
	}
}
