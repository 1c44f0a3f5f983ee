// Package i18n holds the page and message catalogs shown to knocking
// clients. Message keys are the English texts; a line break in a message
// is rendered as a separate line on the page.
package i18n

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.Russian,
}

var matcher = language.NewMatcher(SupportedLangs)

// Message keys.
const (
	PageTitle        = "Knock-knock"
	TimeCaption      = "Time"
	AddressCaption   = "Your IP"
	Ban              = "Ban"
	UnknownPasscode  = "Unknown passcode"
	AccessGranted    = "You are logged in as «%s»\nAccess granted"
	AccessGrantedFor = "You are logged in as «%s»\nAccess granted for %s"
	AccessError      = "You are logged in as «%s»\nThere is some error :("
	PasscodeExpired  = "You are logged in as «%s»\nYour passcode has expired: %s"
	InternalError    = "Internal error"
)

var russian = map[string]string{
	PageTitle:        "Тук-тук",
	TimeCaption:      "Время",
	AddressCaption:   "Ваш IP",
	Ban:              "Бан",
	UnknownPasscode:  "Неизвестный код доступа",
	AccessGranted:    "Вы вошли как «%s»\nДоступ открыт",
	AccessGrantedFor: "Вы вошли как «%s»\nДоступ открыт на %s",
	AccessError:      "Вы вошли как «%s»\nКакая-то ошибка включения доступа :(",
	PasscodeExpired:  "Вы вошли как «%s»\nВаш код доступа уже истёк: %s",
	InternalError:    "Внутренняя ошибка",
}

var messages = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(DefaultLang))
	for key, ru := range russian {
		_ = b.SetString(language.English, key, key)
		_ = b.SetString(language.Russian, key, ru)
	}
	return b
}

type contextKey struct{}

// printerKey is the key used to store the printer in the context
var printerKey = contextKey{}

// MatchLanguage returns the best supported tag for a language setting
// such as "ru", "ru-RU" or an Accept-Language header value.
func MatchLanguage(lang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(strings.ReplaceAll(lang, "_", "-"))
	tag, _, _ := matcher.Match(tags...)
	base, _ := tag.Base()
	for _, supported := range SupportedLangs {
		if b, _ := supported.Base(); b == base {
			return supported
		}
	}
	return DefaultLang
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}

// ForLanguage returns a printer for a configured language code.
func ForLanguage(lang string) *message.Printer {
	return NewPrinter(MatchLanguage(lang))
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return NewPrinter(DefaultLang)
	}
	return p
}
