package classifier

import (
	"fmt"
	"strings"
)

// maxHistoryLines bounds how much conversation history is fed to the
// provider; older lines add tokens without improving the classification.
const maxHistoryLines = 5

const classifySystemPrompt = `You are a message classifier for an assistant serving Brazilian small-business owners over WhatsApp. Messages are usually written in Brazilian Portuguese.

Analyze the user's message and classify it in four layers.

LAYER 1 - PRIMARY INTENT:
- "financial": money, transactions, reports, categories, balance, budgeting
- "marketing": sales, customers, campaigns, social media, promotions
- "hr": people, hiring, team management, organizational climate
- "general": general questions, conceptual doubts, basic guidance

LAYER 2 - SECONDARY INTENT (the specific action within the primary intent):
- financial: record_transaction, check_balance, create_category, generate_report, plan_budget, analyze_margin, query_history, other
- marketing: create_campaign, analyze_competition, sales_strategy, social_media, customer_segmentation, product_promotion, performance_metrics, other
- hr: hire_employee, performance_review, conflict_management, team_training, company_policy, org_climate, career_plan, other
- general: conceptual_question, general_guidance, emotional_support, basic_information, other

LAYER 3 - URGENCY:
- "low": can wait, curiosity, future planning
- "medium": normal business questions, operational doubts
- "high": needs quick attention, problems affecting operations
- "critical": emergencies, urgent problems affecting revenue or operations

LAYER 4 - CONVERSATION CONTEXT:
- "initial": first interaction or a new conversation
- "continuation": natural continuation of the previous exchange
- "clarification": asking to clarify a previous answer
- "correction": correcting previously given information
- "deepening": going deeper into a topic already discussed

Be precise and keep the Brazilian small-business context in mind.

Respond with a single JSON object:
{"primary_intent": "...", "secondary_intent": "...", "urgency": "...", "conversation_context": "...", "confidence": 0.0, "reasoning": "..."}`

func buildClassifyPrompt(message string, history []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message: %q\n", message)
	if len(history) > 0 {
		tail := history
		if len(tail) > maxHistoryLines {
			tail = tail[len(tail)-maxHistoryLines:]
		}
		b.WriteString("\nConversation history:\n")
		for _, line := range tail {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
