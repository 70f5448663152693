package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ivchenkov/meteobot/internal/conversation"
	"github.com/ivchenkov/meteobot/internal/domain"
)

// UI texts in English
const (
	startText = "👋 I am MeteoBot.\n\n" +
		"Ask me for weather on demand or subscribe to recurring notifications:\n" +
		"/weather [city] — current conditions\n" +
		"Share a location for the weather right where you are\n" +
		"/forecast [city] — 5-day forecast\n" +
		"/hourly [city] — next 24 hours\n" +
		"/subscribe — daily forecast or rain watch\n" +
		"/mysubs — your subscriptions\n" +
		"/setcity <city> — default city\n" +
		"/addfav <city>, /listfav — favorite cities\n" +
		"/feedback — message the developer"

	unknownText = "I don't understand that. Use /start to see what I can do."

	tryAgainText     = "The weather service is not responding right now. Please try again later."
	cityUnknownText  = "I don't know that city. Please check the spelling."
	noCityText       = "No city given and no default city set. Add one to the command or use /setcity."
	feedbackAskText  = "Send your feedback in a single message. It will be forwarded to the developer."
	feedbackSentText = "Thanks! Your message was forwarded to the developer."
)

// mainMenuKeyboard is the persistent reply keyboard under the chat input.
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/weather"),
			tgbotapi.NewKeyboardButton("/forecast"),
			tgbotapi.NewKeyboardButton("/hourly"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/subscribe"),
			tgbotapi.NewKeyboardButton("/mysubs"),
			tgbotapi.NewKeyboardButton("/listfav"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonLocation("📍 Weather at my location"),
		),
	)
}

// kindKeyboard offers the two subscription kinds plus cancel.
func kindKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌤 Daily forecast", "kind:"+conversation.InputKindDaily),
			tgbotapi.NewInlineKeyboardButtonData("☔ Rain watch", "kind:"+conversation.InputKindRain),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", "conv:cancel"),
		),
	)
}

// weekdaysKeyboard marks the currently selected days with a dot.
func weekdaysKeyboard(selected []int) tgbotapi.InlineKeyboardMarkup {
	isOn := map[int]bool{}
	for _, d := range selected {
		isOn[d] = true
	}
	label := func(d int) string {
		name := domain.WeekdayName(d)
		if isOn[d] {
			return "• " + name
		}
		return name
	}
	btn := func(d int) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label(d), "wd:"+string(rune('0'+d)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(btn(1), btn(2), btn(3), btn(4)),
		tgbotapi.NewInlineKeyboardRow(btn(5), btn(6), btn(0)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", "wd:done"),
			tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", "conv:cancel"),
		),
	)
}

// favoritesKeyboard lets the user tap a city to fetch its weather.
func favoritesKeyboard(cities []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(cities))
	for _, c := range cities {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c, "fav:"+c),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
