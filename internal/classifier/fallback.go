package classifier

import (
	"regexp"
	"strings"
)

// Keyword vocabularies for the heuristic classifier. The user base writes
// Brazilian Portuguese, so the patterns cover pt-BR terms with accent
// variants plus the English loanwords that show up in practice.
var (
	financialPattern = regexp.MustCompile(`fluxo de caixa|despesa|receita|categoria|saldo|relat[óo]rio|dinheiro|or[çc]amento|pagamento|fatura|boleto|imposto`)
	marketingPattern = regexp.MustCompile(`marketing|instagram|whatsapp|campanha|venda|clientes|promo[cç][ãa]o|divulga[çc][ãa]o|an[úu]ncio|concorr[êe]ncia`)
	hrPattern        = regexp.MustCompile(`contrata[çc][ãa]o|recrutamento|clima|lideran[çc]a|conflito|feedback|funcion[áa]rio|equipe|treinamento|sal[áa]rio`)

	clarificationPattern = regexp.MustCompile(`esclarecer|d[úu]vida|n[ãa]o entendi|pode explicar|como assim`)
	correctionPattern    = regexp.MustCompile(`corrigir|errado|n[ãa]o [ée] isso|mudei de ideia`)
	deepeningPattern     = regexp.MustCompile(`mais detalhes|aprofundar|entender melhor|como funciona`)

	criticalPattern = regexp.MustCompile(`urgente|urg[êe]ncia|emerg[êe]ncia|cr[íi]tico|imediato|parou|falhou|n[ãa]o funciona`)
)

const (
	fallbackMatchConfidence   = 0.6
	fallbackDefaultConfidence = 0.3
)

// Fallback classifies a message by keyword heuristics alone. It is total:
// any input, including the empty string, yields a usable Result.
func Fallback(message string, history []string) Result {
	text := strings.ToLower(message)

	primary := IntentGeneral
	confidence := fallbackDefaultConfidence
	switch {
	case financialPattern.MatchString(text):
		primary = IntentFinancial
		confidence = fallbackMatchConfidence
	case marketingPattern.MatchString(text):
		primary = IntentMarketing
		confidence = fallbackMatchConfidence
	case hrPattern.MatchString(text):
		primary = IntentHR
		confidence = fallbackMatchConfidence
	}

	stage := StageInitial
	if len(history) > 0 {
		stage = StageContinuation
		switch {
		case clarificationPattern.MatchString(text):
			stage = StageClarification
		case correctionPattern.MatchString(text):
			stage = StageCorrection
		case deepeningPattern.MatchString(text):
			stage = StageDeepening
		}
	}

	urgency := UrgencyMedium
	if criticalPattern.MatchString(text) {
		urgency = UrgencyCritical
	}

	return Result{
		PrimaryIntent:   primary,
		SecondaryIntent: SecondaryOther,
		Urgency:         urgency,
		Stage:           stage,
		Confidence:      confidence,
		Reasoning:       "keyword heuristic fallback",
	}
}
