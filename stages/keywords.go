package stages

import "strings"

// keywordGroup is one row of an ordered lookup table. Table order decides
// ties: the first group with a matching keyword wins.
type keywordGroup struct {
	name     string
	keywords []string
}

var urgencyKeywords = []string{"urgent", "asap", "immediately", "emergency", "critical", "help", "desperate", "frustrated"}

var attachmentKeywords = []string{"attach", "screenshot", "image", "photo", "file"}

var categoryKeywords = []keywordGroup{
	{"Billing", []string{"bill", "charge", "payment", "invoice", "price", "fee", "refund", "money", "cost"}},
	{"Shipping", []string{"ship", "deliver", "arrive", "track", "package", "order", "delay", "late"}},
	{"Product", []string{"product", "item", "broken", "defect", "quality", "damage", "wrong"}},
	{"Service", []string{"service", "staff", "rude", "help", "support", "agent"}},
	{"Technical", []string{"error", "bug", "crash", "login", "password", "app", "website", "not working"}},
}

var sentimentKeywords = []keywordGroup{
	{"angry", []string{"angry", "furious", "outraged", "terrible", "worst", "disgusted", "unacceptable"}},
	{"frustrated", []string{"frustrated", "annoyed", "disappointed", "upset", "unhappy", "problem", "issue"}},
	{"positive", []string{"thank", "great", "excellent", "happy", "love", "amazing", "good"}},
}

// Threat kinds recognised in escalation signals, in check order.
const (
	threatLegal      = "legal"
	threatChargeback = "chargeback"
	threatSocial     = "social"
)

// threatWords classify an escalation signal, whoever produced it.
var threatWords = []keywordGroup{
	{threatLegal, []string{"legal", "lawyer", "lawsuit"}},
	{threatChargeback, []string{"chargeback", "dispute", "bank"}},
	{threatSocial, []string{"social", "twitter", "review", "post"}},
}

// threatPhrases find escalation threats in complaint text. Each produces a
// signal that threatKind maps back to the same kind.
var threatPhrases = []struct {
	phrases []string
	signal  string
}{
	{[]string{"lawyer", "lawsuit", "attorney", "legal action", "sue you", "suing", "court"}, "legal action threat"},
	{[]string{"chargeback", "charge back", "dispute", "my bank", "credit card company"}, "chargeback threat"},
	{[]string{"social media", "twitter", "facebook", "instagram", "tiktok", "bad review", "negative review", "leave a review", "post about"}, "social media threat"},
}

// threatKind returns the kind of the first threat family the signal mentions.
func threatKind(signal string) (string, bool) {
	lower := strings.ToLower(signal)
	for _, group := range threatWords {
		if containsAny(lower, group.keywords) {
			return group.name, true
		}
	}
	return "", false
}

// extractThreats returns one signal per threat family found in lowered text.
func extractThreats(lower string) []string {
	var signals []string
	for _, t := range threatPhrases {
		if hit := matching(lower, t.phrases); len(hit) > 0 {
			signals = append(signals, t.signal+" ("+hit[0]+")")
		}
	}
	return signals
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// matching returns the keywords present in text, in table order.
func matching(text string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}
