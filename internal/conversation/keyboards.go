// ABOUTME: Reply and inline keyboard layouts
// ABOUTME: Main menu, suggestion buttons and search pagination controls

package conversation

import (
	"strconv"

	"github.com/2389/finbot-gateway/internal/chat"
	"github.com/2389/finbot-gateway/internal/instrument"
)

const (
	buttonPrev  = "⬅️ Назад"
	buttonNext  = "Вперед ➡️"
	buttonClose = "❌ Закрыть"
)

func mainMenuKeyboard() *chat.Keyboard {
	return &chat.Keyboard{Reply: [][]string{
		{"Курс валют (/rate)", "Цена акций (/price)"},
		{"Поиск (/search)", "Помощь (/help)"},
	}}
}

func closeRow() []chat.Button {
	return []chat.Button{{Text: buttonClose, Data: closeData}}
}

func suggestionsKeyboard(items []instrument.Instrument) *chat.Keyboard {
	rows := make([][]chat.Button, 0, len(items)+1)
	for _, it := range items {
		data := stockCallback(it.Code)
		if it.Type == instrument.Currency {
			data = currencyCallback(it.Code)
		}
		rows = append(rows, []chat.Button{{Text: it.Code, Data: data}})
	}
	rows = append(rows, closeRow())
	return &chat.Keyboard{Inline: rows}
}

// paginationKeyboard links neighbouring pages. Callback pages are 0-based
// while page.Number is 1-based. A non-empty ref replaces the query in the
// links with its session token.
func paginationKeyboard(filter instrument.Filter, query, ref string, page instrument.Page) *chat.Keyboard {
	link := func(n int) string {
		if ref != "" {
			return searchRefCallback(filter, n, ref)
		}
		return searchPageCallback(filter, n, query)
	}

	var rows [][]chat.Button
	if page.HasPrev() || page.HasNext() {
		var nav []chat.Button
		if page.HasPrev() {
			nav = append(nav, chat.Button{Text: buttonPrev, Data: link(page.Number - 2)})
		}
		nav = append(nav, chat.Button{
			Text: strconv.Itoa(page.Number) + "/" + strconv.Itoa(page.TotalPages),
			Data: pageInfoData,
		})
		if page.HasNext() {
			nav = append(nav, chat.Button{Text: buttonNext, Data: link(page.Number)})
		}
		rows = append(rows, nav)
	}
	rows = append(rows, closeRow())
	return &chat.Keyboard{Inline: rows}
}
