// ABOUTME: User-facing reply texts and formatters
// ABOUTME: Covers menus, instructions, rates, prices, search pages and failure notices

package conversation

import (
	"fmt"
	"strings"

	"github.com/2389/finbot-gateway/internal/backend"
	"github.com/2389/finbot-gateway/internal/instrument"
)

const (
	textMainMenu       = "Добро пожаловать! Выберите действие:"
	textUnknownCommand = "Неизвестная команда. Используйте /help для справки."
	textNotFound       = "Инструмент не найден. Попробуйте другой код или используйте /search для поиска."
	textChoiceMade     = "Выбор сделан ✅"
	textPageInfo       = "Это информация о странице"
	textCallbackError  = "Ошибка обработки запроса."
	textUnknownRequest = "Неизвестный тип запроса."
	textSearchExpired  = "Результаты поиска устарели. Повторите поиск через /search."
	textRefreshUsage   = "Укажите, что обновить: /refresh rates или /refresh shares"

	textCurrencyInstructions = `Введите код валюты (например, USD, EUR, CNY) или используйте /search для поиска.

Примеры популярных валют:
• USD - Доллар США
• EUR - Евро
• CNY - Китайский юань
• JPY - Японская иена
• GBP - Фунт стерлингов`

	textStockInstructions = `Введите код акции или используйте /search для поиска.

Примеры акций:
• SBER - Сбербанк
• GAZP - Газпром
• LKOH - Лукойл
• GMKN - Норильский никель
• ROSN - Роснефть`

	textSearchInstructions = `Введите поисковый запрос для поиска валют или акций.

Примеры:
• "доллар" - для поиска валют
• "сбер" - для поиска акций
• "eur" - для поиска по коду

Или используйте:
/search_currency [запрос] - поиск только по валютам
/search_stock [запрос] - поиск только по акциям`

	textHelp = `🤖 Справка по боту:

Команды:
/start - Главное меню
/rate - Курс валют
/price - Цена акций
/search - Поиск инструментов
/status - Состояние сервиса данных
/refresh - Обновить данные (rates или shares)
/help - Эта справка

Как пользоваться:
1. Введите код валюты или акции напрямую
2. Используйте /search для поиска
3. Получайте подсказки при вводе`

	textTimeout         = "⏳ Сервис данных не ответил вовремя. Попробуйте позже."
	textUnavailable     = "⚠️ Сервис данных временно недоступен. Попробуйте позже."
	textInvalidResponse = "⚠️ Получен некорректный ответ от сервиса данных."
	textRejected        = "Запрос отклонён сервисом данных."
)

// failureText maps a backend failure to the notice shown to the user.
func failureText(err error) string {
	kind, ok := backend.KindOf(err)
	switch {
	case !ok:
		return textUnavailable
	case kind == backend.KindTimeout:
		return textTimeout
	case kind == backend.KindInvalidResponse:
		return textInvalidResponse
	case kind == backend.KindRejected:
		return textRejected
	default:
		return textUnavailable
	}
}

func statusText(state string) string {
	return "status: " + state
}

func rateText(code string, rate float64) string {
	return fmt.Sprintf("💰 Курс валюты %s: %.4f RUB", code, rate)
}

func rateNotFoundText(code, name string) string {
	return fmt.Sprintf("Курс для валюты %s (%s) не найден.", code, name)
}

func priceText(ticker string, price float64) string {
	return fmt.Sprintf("📈 Цена акции %s: %.4f RUB", ticker, price)
}

func priceNotFoundText(ticker, name string) string {
	return fmt.Sprintf("Цена для акции %s (%s)  не найдена.", ticker, name)
}

func refreshText(resource string, items int) string {
	label := resource
	switch resource {
	case "rates":
		label = "курсы валют"
	case "shares":
		label = "акции"
	}
	return fmt.Sprintf("🔄 Данные обновлены: %s (записей: %d).", label, items)
}

func instrumentLine(b *strings.Builder, it instrument.Instrument) {
	if it.Type == instrument.Currency {
		b.WriteString("💰 ")
	} else {
		b.WriteString("📊 ")
	}
	b.WriteString(it.Code)
	if it.Name != "" {
		b.WriteString(" (")
		b.WriteString(it.Name)
		b.WriteString(" )")
	}
	b.WriteString("\n")
}

func suggestionsText(query string, items []instrument.Instrument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Найдено по запросу '%s':\n\n", query)
	for _, it := range items {
		instrumentLine(&b, it)
	}
	b.WriteString("\nНажмите на код выше или введите точный код из списка.")
	return b.String()
}

func searchPageText(query string, page instrument.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Результаты поиска для: '%s':\nСтраница %d из %d\n\n", query, page.Number, page.TotalPages)
	for _, it := range page.Items {
		instrumentLine(&b, it)
	}
	return b.String()
}

func searchEmptyText(query string) string {
	return fmt.Sprintf("По запросу '%s' ничего не найдено.", query)
}
