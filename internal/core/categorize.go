package core

import "strings"

// categoryRule maps merchant/description keywords to a category name
// fragment. First matching rule wins.
type categoryRule struct {
	nameFragment string
	keywords     []string
}

var categoryRules = []categoryRule{
	{"Food", []string{"restaurant", "cafe", "coffee", "food", "pizza", "burger", "starbucks", "mcdonald"}},
	{"Transport", []string{"uber", "lyft", "taxi", "gas", "fuel", "parking", "transit", "subway"}},
	{"Shopping", []string{"amazon", "walmart", "target", "store", "shop", "retail"}},
	{"Entertainment", []string{"netflix", "spotify", "theater", "cinema", "movie", "game", "entertainment"}},
	{"Bills", []string{"utility", "electric", "water", "internet", "phone", "bill", "insurance"}},
	{"Health", []string{"pharmacy", "doctor", "hospital", "medical", "health", "gym", "fitness"}},
}

// CategorizeTransaction picks a category id for a bank transaction using
// deterministic keyword rules over the merchant name (or the transaction
// name when no merchant is set). Falls back to the "other" category, or to
// the first existing category when "other" has been deleted. Returns ""
// only when no categories exist at all.
func CategorizeTransaction(tx Transaction, categories []Category) string {
	subject := strings.ToLower(tx.MerchantName)
	if subject == "" {
		subject = strings.ToLower(tx.Name)
	}

	for _, rule := range categoryRules {
		if !matchesAny(subject, rule.keywords) {
			continue
		}
		for _, c := range categories {
			if strings.Contains(c.Name, rule.nameFragment) {
				return c.ID
			}
		}
		break
	}
	for _, c := range categories {
		if c.ID == "other" {
			return "other"
		}
	}
	if len(categories) > 0 {
		return categories[0].ID
	}
	return ""
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
