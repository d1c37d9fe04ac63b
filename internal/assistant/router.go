package assistant

import "strings"

var inventoryKeywords = []string{
	"product", "inventory", "stock", "sku", "qty", "quantity",
	"how many", "how much", "count", "supplier", "sales", "forecast",
	"reorder", "category", "list", "show", "check",
}

// Route classifies a question. Blank input has no target.
func Route(input string) (Intent, Target) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", TargetNone
	}
	for _, keyword := range inventoryKeywords {
		if strings.Contains(normalized, keyword) {
			return IntentInventory, TargetSQL
		}
	}
	return IntentConversation, TargetLLM
}
