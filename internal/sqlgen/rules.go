package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	listProductsSQL = "SELECT sku, name, category, safety_stock, reorder_point, lead_time_days FROM products ORDER BY name ASC;"

	inventoryStatusSQL = "SELECT p.sku, p.name, p.category, i.qty, i.reserved, i.updated_at FROM products p JOIN inventory i ON p.sku = i.sku ORDER BY i.qty ASC;"

	lowStockSQL = "SELECT p.sku, p.name, i.qty, p.reorder_point FROM products p JOIN inventory i ON p.sku = i.sku WHERE i.qty <= p.reorder_point ORDER BY i.qty ASC;"

	categoryCountTemplate = "SELECT p.sku, p.name, i.qty FROM products p JOIN inventory i ON p.sku = i.sku WHERE LOWER(p.category) LIKE LOWER('%%%s%%');"

	productLookupTemplate = "SELECT p.sku, p.name, i.qty FROM products p LEFT JOIN inventory i ON p.sku = i.sku WHERE LOWER(p.name) LIKE LOWER('%%%s%%');"
)

var (
	categoryCountPattern = regexp.MustCompile(`(how much|how many|count)\s+([a-z\s]+)`)
	productLookupPattern = regexp.MustCompile(`(how much|qty|quantity|stock|check)\s+(.+)`)
)

// Rule is one intent pattern. Build receives the lowercased question and
// reports whether the rule fired.
type Rule struct {
	Name  string
	Build func(normalized string) (string, bool)
}

// Rules is evaluated top to bottom and the first match wins. Captured
// phrases are substituted without escaping; the Validator is the only gate.
var Rules = []Rule{
	{Name: "list_products", Build: keywordRule(listProductsSQL, "list products", "all products", "show products", "product list")},
	{Name: "inventory_status", Build: keywordRule(inventoryStatusSQL, "inventory", "stock report", "inventory status", "stock level")},
	{Name: "low_stock", Build: keywordRule(lowStockSQL, "low stock")},
	{Name: "category_count", Build: captureRule(categoryCountPattern, categoryCountTemplate)},
	{Name: "product_lookup", Build: captureRule(productLookupPattern, productLookupTemplate)},
}

// Match returns the SQL of the first rule matching question, or false when
// the question must be escalated.
func Match(question string) (string, bool) {
	sqlText, _, ok := MatchRule(question)
	return sqlText, ok
}

// MatchRule is Match that also reports which rule fired.
func MatchRule(question string) (string, string, bool) {
	normalized := strings.ToLower(question)
	for _, rule := range Rules {
		if sqlText, ok := rule.Build(normalized); ok {
			return sqlText, rule.Name, true
		}
	}
	return "", "", false
}

func keywordRule(sqlText string, keywords ...string) func(string) (string, bool) {
	return func(normalized string) (string, bool) {
		for _, keyword := range keywords {
			if strings.Contains(normalized, keyword) {
				return sqlText, true
			}
		}
		return "", false
	}
}

func captureRule(pattern *regexp.Regexp, template string) func(string) (string, bool) {
	return func(normalized string) (string, bool) {
		groups := pattern.FindStringSubmatch(normalized)
		if groups == nil {
			return "", false
		}
		return fmt.Sprintf(template, strings.TrimSpace(groups[2])), true
	}
}
