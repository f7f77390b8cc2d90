// Package classifier suggests YNAB categories for transactions based on
// stored merchant patterns.
//
// The classifier is a best-effort plug-in: a failure here never fails a sync,
// the transaction simply proceeds uncategorized.
package classifier

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/ryanuber/go-glob"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RuleStore provides the stored pattern rules. Implemented by the ledger.
type RuleStore interface {
	MerchantRules(budgetID string) ([]ledger.MerchantRule, error)
	IncrementMerchantRuleUse(id uuid.UUID) error
}

// Match is a successful categorization.
type Match struct {
	RuleID       uuid.UUID
	Pattern      string
	CategoryID   string
	CategoryName string
}

// Classifier looks up merchant patterns against the rule store.
type Classifier struct {
	store RuleStore
}

// New returns a Classifier backed by the given rule store.
func New(store RuleStore) *Classifier {
	return &Classifier{store: store}
}

// noiseTokens are card-network and processor noise that carries no merchant
// information.
var noiseTokens = map[string]struct{}{
	"VISA":       {},
	"MASTERCARD": {},
	"EFTPOS":     {},
	"PAYPAL":     {},
	"SQ":         {},
	"SP":         {},
	"PENDING":    {},
	"PURCHASE":   {},
	"CARD":       {},
	"PTY":        {},
	"LTD":        {},
	"AUS":        {},
	"AU":         {},
}

var (
	// Long digit runs and embedded dates identify terminals and receipts,
	// not merchants.
	digitRun     = regexp.MustCompile(`\d{4,}`)
	embeddedDate = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}([/\-.]\d{2,4})?`)
	separators   = regexp.MustCompile(`[*_#/\\-]+`)

	// foldMarks strips diacritics after NFD decomposition
	foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Extract normalizes a transaction description into a merchant pattern:
// uppercased, diacritics folded, noise tokens and digit runs stripped, first
// meaningful token kept.
func Extract(description string) string {
	folded, _, err := transform.String(foldMarks, description)
	if err != nil {
		folded = description
	}

	text := strings.ToUpper(folded)
	text = embeddedDate.ReplaceAllString(text, " ")
	text = digitRun.ReplaceAllString(text, " ")
	text = separators.ReplaceAllString(text, " ")

	for _, token := range strings.Fields(text) {
		if _, noise := noiseTokens[token]; noise {
			continue
		}
		if len(token) < 2 {
			continue
		}

		return token
	}

	return ""
}

// Categorize extracts the merchant pattern from description and looks it up
// against the budget's rules. A nil Match means no rule applied. On a match
// the rule's use counter is incremented.
func (c *Classifier) Categorize(budgetID, description string) (*Match, error) {
	merchant := Extract(description)
	if merchant == "" {
		return nil, nil
	}

	rules, err := c.store.MerchantRules(budgetID)
	if err != nil {
		return nil, err
	}

	rule := matchRule(rules, merchant)
	if rule == nil {
		return nil, nil
	}

	if err := c.store.IncrementMerchantRuleUse(rule.ID); err != nil {
		// Losing a counter increment is not worth failing the
		// categorization over
		log.Warn().Err(err).Str("pattern", rule.Pattern).Msg("could not increment rule use count")
	}

	return &Match{
		RuleID:       rule.ID,
		Pattern:      rule.Pattern,
		CategoryID:   rule.CategoryID,
		CategoryName: rule.CategoryName,
	}, nil
}

// matchRule returns the first rule matching the merchant. Rules come from the
// store in priority order, so the first match wins. Exact matches are
// preferred over glob and substring matches.
func matchRule(rules []ledger.MerchantRule, merchant string) *ledger.MerchantRule {
	for i, rule := range rules {
		if rule.Pattern == merchant {
			return &rules[i]
		}
	}

	for i, rule := range rules {
		if strings.Contains(rule.Pattern, "*") {
			if glob.Glob(rule.Pattern, merchant) {
				return &rules[i]
			}
			continue
		}

		if strings.Contains(merchant, rule.Pattern) {
			return &rules[i]
		}
	}

	return nil
}
