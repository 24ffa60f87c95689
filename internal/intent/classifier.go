// Package intent classifies tenant messages into a small closed set of
// intents using deterministic keyword matching. The rule list is ordered and
// the first matching rule wins; this keeps routing auditable, free, and
// exhaustively testable, at the cost of occasionally routing an ambiguous
// message by precedence rather than meaning.
package intent

import "strings"

// Intent is the classified purpose of a tenant message.
type Intent string

const (
	// MaintenanceTrigger signals the UI layer to open a structured
	// maintenance intake form.
	MaintenanceTrigger Intent = "maintenance_trigger"
	// StatusCheck asks for the state of previously filed maintenance tickets.
	StatusCheck Intent = "status_check"
	// ContractQA is a question answered from the tenant's uploaded contract.
	ContractQA Intent = "contract_qa"
	// RentCalc is a rent arithmetic request.
	RentCalc Intent = "rent_calc"
	// GeneralChat is everything else.
	GeneralChat Intent = "general_chat"
)

// Keyword vocabularies, English plus the Chinese maintenance terms the
// tenant base actually uses. "maintenance" and "repair" appear in both the
// maintenance and contract lists; the maintenance rule fires first, so a
// message like "the repair clause" only reaches contract Q&A because of the
// explicit "clause" exclusion in the maintenance rule.
var (
	maintenanceTerms = []string{"maintenance", "fix", "broken", "repair", "leak", "报修"}
	statusTerms      = []string{"status", "progress", "check repair", "维修进度", "维修状态"}
	contractTerms    = []string{
		"clause", "tenant", "landlord", "terminate", "repair", "deposit",
		"renewal", "maintenance", "aircon", "breach", "notice", "early termination",
	}
	calcTerms = []string{"calculate", "rent", "payment", "fee", "total"}
)

// rule is a named predicate over the case-folded message.
type rule struct {
	name   string
	intent Intent
	match  func(q string) bool
}

// rules are evaluated in order; the first match wins and later rules are
// never consulted.
var rules = []rule{
	{
		name:   "maintenance_issue",
		intent: MaintenanceTrigger,
		match: func(q string) bool {
			return containsAny(q, maintenanceTerms) &&
				!containsAny(q, statusTerms) &&
				!strings.Contains(q, "clause")
		},
	},
	{
		name:   "maintenance_status",
		intent: StatusCheck,
		match:  func(q string) bool { return containsAny(q, statusTerms) },
	},
	{
		name:   "contract_question",
		intent: ContractQA,
		match:  func(q string) bool { return containsAny(q, contractTerms) },
	},
	{
		name:   "rent_calculation",
		intent: RentCalc,
		match:  func(q string) bool { return containsAny(q, calcTerms) },
	},
}

// Classify maps a raw message to an Intent. It is a pure function of the
// message text: same input, same output, no hidden state.
func Classify(message string) Intent {
	q := strings.ToLower(message)
	for _, r := range rules {
		if r.match(q) {
			return r.intent
		}
	}
	return GeneralChat
}

func containsAny(q string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(q, t) {
			return true
		}
	}
	return false
}
