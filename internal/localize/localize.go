// Package localize renders notification titles and bodies for a user's
// locale. Messages are keyed by namespace, category, variant and field and
// fall back to English, then to the key itself.
package localize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Namespace for push and in-app notification text.
const Notifications = "notifications"

// Params are the values interpolated into a message.
type Params map[string]any

// Template produces one localized string.
type Template func(p *message.Printer, params Params) string

// Catalog maps namespace -> key -> template for a single locale.
type Catalog map[string]map[string]Template

var supported = []language.Tag{language.English, language.Spanish}

var matcher = language.NewMatcher(supported)

var catalogs = map[language.Tag]Catalog{
	language.English: english,
	language.Spanish: spanish,
}

// Match resolves a user-supplied locale to the closest supported tag.
func Match(locale string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return language.English
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Translator returns a lookup function for one locale and namespace.
func Translator(locale, namespace string) func(key string, params Params) string {
	tag := Match(locale)
	p := message.NewPrinter(tag)
	primary := catalogs[tag][namespace]
	fallback := catalogs[language.English][namespace]
	fp := message.NewPrinter(language.English)

	return func(key string, params Params) string {
		if t, ok := primary[key]; ok {
			return t(p, params)
		}
		if t, ok := fallback[key]; ok {
			return t(fp, params)
		}
		return key
	}
}

// Render returns the title and body for a notification category/variant.
func Render(locale, category, variant string, params Params) (title, body string) {
	t := Translator(locale, Notifications)
	prefix := category + "." + variant + "."
	return t(prefix+"title", params), t(prefix+"body", params)
}

func str(params Params, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func integer(params Params, key string) int64 {
	switch v := params[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case decimal.Decimal:
		return v.IntPart()
	}
	return 0
}

// money formats a decimal or float amount with two fraction digits using
// the printer's locale separators.
func money(p *message.Printer, params Params, key string) string {
	var f float64
	switch v := params[key].(type) {
	case decimal.Decimal:
		f = v.Round(2).InexactFloat64()
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return v
		}
		f = d.Round(2).InexactFloat64()
	}
	return p.Sprintf("%.2f", f)
}
