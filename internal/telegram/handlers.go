package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/conversation"
	"github.com/ivchenkov/meteobot/internal/domain"
	"github.com/ivchenkov/meteobot/internal/store"
	"github.com/ivchenkov/meteobot/internal/weather"
)

// --- Generic helpers ---

func (r *Router) sendText(chatID int64, text string) {
	_, _ = r.bot.Send(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// resolveCity picks the city for an on-demand command: explicit argument
// first, then the owner's default city.
func (r *Router) resolveCity(ctx context.Context, chatID int64, args string) (string, bool) {
	city := domain.NormalizeCity(args)
	if city != "" {
		return city, true
	}
	city, err := r.repo.GetDefaultCity(ctx, chatID)
	if err != nil {
		r.log.Error("GetDefaultCity failed", zap.Error(err))
	}
	if city == "" {
		r.sendText(chatID, noCityText)
		return "", false
	}
	return city, true
}

// sendProviderError maps gateway failures to user-visible text.
func (r *Router) sendProviderError(chatID int64, city string, err error) {
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		r.sendText(chatID, cityUnknownText)
	case errors.Is(err, weather.ErrTransient):
		r.sendText(chatID, tryAgainText)
	default:
		r.log.Error("weather query failed", zap.String("city", city), zap.Error(err))
		r.sendText(chatID, tryAgainText)
	}
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	msg := tgbotapi.NewMessage(chatID, startText)
	msg.ReplyMarkup = mainMenuKeyboard()
	_, _ = r.bot.Send(msg)
}

// --- On-demand weather ---

func (r *Router) handleWeather(ctx context.Context, chatID int64, args string) {
	city, ok := r.resolveCity(ctx, chatID, args)
	if !ok {
		return
	}
	sum, err := r.gateway.CurrentAndForecast(ctx, city)
	if err != nil {
		r.sendProviderError(chatID, city, err)
		return
	}
	r.sendText(chatID, currentWeatherText(sum))
}

func (r *Router) handleForecast(ctx context.Context, chatID int64, args string) {
	city, ok := r.resolveCity(ctx, chatID, args)
	if !ok {
		return
	}
	sum, err := r.gateway.CurrentAndForecast(ctx, city)
	if err != nil {
		r.sendProviderError(chatID, city, err)
		return
	}
	r.sendText(chatID, forecastText(sum))
}

// handleLocation answers a shared device location with the current weather
// at those coordinates.
func (r *Router) handleLocation(ctx context.Context, chatID int64, lat, lon float64) {
	sum, err := r.gateway.CurrentByCoords(ctx, lat, lon)
	if err != nil {
		r.sendProviderError(chatID, fmt.Sprintf("%.4f,%.4f", lat, lon), err)
		return
	}
	r.sendText(chatID, locationWeatherText(sum))
}

func (r *Router) handleHourly(ctx context.Context, chatID int64, args string) {
	city, ok := r.resolveCity(ctx, chatID, args)
	if !ok {
		return
	}
	hours, err := r.gateway.NearTerm(ctx, city, 24)
	if err != nil {
		r.sendProviderError(chatID, city, err)
		return
	}
	r.sendText(chatID, hourlyText(city, hours))
}

func currentWeatherText(sum *weather.Summary) string {
	return fmt.Sprintf("Weather in %s, %s:\nTemperature: %.1f°C\nConditions: %s\nHumidity: %.0f%%\nWind: %.1f m/s",
		sum.City, sum.Country, sum.TempC, sum.Description, sum.HumidityPct, sum.WindSpeedMS)
}

func locationWeatherText(sum *weather.Summary) string {
	return fmt.Sprintf("Weather at your location — %s, %s:\nTemperature: %.1f°C\nConditions: %s\nHumidity: %.0f%%\nWind: %.1f m/s",
		sum.City, sum.Country, sum.TempC, sum.Description, sum.HumidityPct, sum.WindSpeedMS)
}

func forecastText(sum *weather.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "5-day forecast for %s, %s:\n", sum.City, sum.Country)
	for _, d := range sum.Days {
		fmt.Fprintf(&b, "%s: %.1f…%.1f°C, %s\n",
			d.Date.Format("Mon 02 Jan"), d.MinC, d.MaxC, d.Description)
	}
	return b.String()
}

func hourlyText(city string, hours []weather.HourlyCondition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hourly forecast for %s:\n", city)
	for _, h := range hours {
		fmt.Fprintf(&b, "%s: %.1f°C, %s\n", h.At.Format("15:04"), h.TempC, h.Description)
	}
	return b.String()
}

// --- Subscription flow ---

func (r *Router) handleSubscribe(ctx context.Context, chatID int64) {
	eff := r.engine.Start(chatID)
	r.renderEffect(chatID, eff)
}

func (r *Router) handleCancel(ctx context.Context, chatID int64) {
	r.clearPending(chatID)
	if !r.engine.InProgress(chatID) {
		r.sendText(chatID, "Nothing to cancel.")
		return
	}
	r.advanceConversation(ctx, chatID, conversation.InputCancel)
}

func (r *Router) advanceConversation(ctx context.Context, chatID int64, input string) {
	eff := r.engine.Advance(ctx, chatID, input)
	r.renderEffect(chatID, eff)
}

// renderEffect turns a conversation effect into outgoing messages,
// attaching the stage-appropriate keyboard to prompts.
func (r *Router) renderEffect(chatID int64, eff conversation.Effect) {
	switch eff.Kind {
	case conversation.EffectNone:
		r.sendText(chatID, unknownText)
	case conversation.EffectPrompt:
		msg := tgbotapi.NewMessage(chatID, eff.Text)
		switch eff.Stage {
		case conversation.StageAwaitingKind:
			msg.ReplyMarkup = kindKeyboard()
		case conversation.StageAwaitingWeekdays:
			msg.ReplyMarkup = weekdaysKeyboard(eff.Draft.Weekdays)
		}
		_, _ = r.bot.Send(msg)
	case conversation.EffectCommit, conversation.EffectCancelled, conversation.EffectFailed:
		r.sendText(chatID, eff.Text)
	}
}

// --- Subscription management ---

func (r *Router) handleMySubs(ctx context.Context, chatID int64) {
	subs, err := r.repo.ListActive(ctx, chatID)
	if err != nil {
		r.log.Error("ListActive failed", zap.Error(err))
		r.sendText(chatID, "Could not read your subscriptions.")
		return
	}
	if len(subs) == 0 {
		r.sendText(chatID, "You have no active subscriptions. Use /subscribe to create one.")
		return
	}

	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for i, s := range subs {
		switch s.Kind {
		case domain.KindDailyForecast:
			fmt.Fprintf(&b, "%d. Daily forecast — %s at %s on %s\n",
				i+1, s.City, s.At.String(), domain.FormatWeekdays(s.Weekdays))
		case domain.KindRainWatch:
			fmt.Fprintf(&b, "%d. Rain watch — %s\n", i+1, s.City)
		}
		fmt.Fprintf(&b, "   id: %s\n", s.ID)
	}
	b.WriteString("\nRemove one with /unsubscribe <number or id>.")
	r.sendText(chatID, b.String())
}

func (r *Router) handleUnsubscribe(ctx context.Context, chatID int64, args string) {
	arg := strings.TrimSpace(args)
	if arg == "" {
		r.sendText(chatID, "Usage: /unsubscribe <number from /mysubs or id>")
		return
	}

	sub, err := r.lookupOwnSubscription(ctx, chatID, arg)
	if err != nil {
		r.sendText(chatID, "No such subscription. Check /mysubs.")
		return
	}

	if err := r.repo.DeactivateSubscription(ctx, sub.ID); err != nil {
		r.log.Error("DeactivateSubscription failed", zap.Error(err), zap.String("id", sub.ID))
		r.sendText(chatID, "Could not remove the subscription. Please try again.")
		return
	}
	r.sched.Cancel(sub.ID)
	r.sendText(chatID, "Subscription removed: "+sub.City+".")
}

// lookupOwnSubscription accepts either a 1-based index into /mysubs or a
// raw subscription id, and verifies ownership.
func (r *Router) lookupOwnSubscription(ctx context.Context, chatID int64, arg string) (*domain.Subscription, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		subs, err := r.repo.ListActive(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if n < 1 || n > len(subs) {
			return nil, store.ErrNotFound
		}
		return &subs[n-1], nil
	}

	sub, err := r.repo.GetSubscription(ctx, arg)
	if err != nil {
		return nil, err
	}
	if sub.Owner != chatID || !sub.Active {
		return nil, store.ErrNotFound
	}
	return sub, nil
}

// --- Default city & favorites ---

func (r *Router) handleSetCity(ctx context.Context, chatID int64, args string) {
	city := domain.NormalizeCity(args)
	if city == "" {
		r.sendText(chatID, "Usage: /setcity <city>")
		return
	}
	if err := r.repo.SetDefaultCity(ctx, chatID, city); err != nil {
		r.log.Error("SetDefaultCity failed", zap.Error(err))
		r.sendText(chatID, "Could not save the default city.")
		return
	}
	r.sendText(chatID, "Default city set to "+city+".")
}

func (r *Router) handleGetCity(ctx context.Context, chatID int64) {
	city, err := r.repo.GetDefaultCity(ctx, chatID)
	if err != nil {
		r.log.Error("GetDefaultCity failed", zap.Error(err))
		r.sendText(chatID, "Could not read your default city.")
		return
	}
	if city == "" {
		r.sendText(chatID, "No default city set. Use /setcity <city>.")
		return
	}
	r.sendText(chatID, "Your default city: "+city+".")
}

func (r *Router) handleAddFav(ctx context.Context, chatID int64, args string) {
	city := domain.NormalizeCity(args)
	if city == "" {
		r.sendText(chatID, "Usage: /addfav <city>")
		return
	}
	added, err := r.repo.AddFavorite(ctx, chatID, city)
	if err != nil {
		r.log.Error("AddFavorite failed", zap.Error(err))
		r.sendText(chatID, "Could not add the city.")
		return
	}
	if !added {
		r.sendText(chatID, city+" is already in your favorites.")
		return
	}
	r.sendText(chatID, city+" added to your favorites.")
}

func (r *Router) handleListFav(ctx context.Context, chatID int64) {
	cities, err := r.repo.ListFavorites(ctx, chatID)
	if err != nil {
		r.log.Error("ListFavorites failed", zap.Error(err))
		r.sendText(chatID, "Could not read your favorites.")
		return
	}
	if len(cities) == 0 {
		r.sendText(chatID, "No favorite cities yet. Add one with /addfav <city>.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Your favorite cities — tap one for the weather:")
	msg.ReplyMarkup = favoritesKeyboard(cities)
	_, _ = r.bot.Send(msg)
}

// --- Feedback relay ---

func (r *Router) handleFeedbackStart(chatID int64) {
	if r.adminID == 0 {
		r.sendText(chatID, "Feedback is not available right now.")
		return
	}
	r.setPending(chatID, pendingAction{kind: pendingFeedback})
	r.sendText(chatID, feedbackAskText)
}

func (r *Router) handleFeedbackText(chatID int64, text string) {
	if text == "" {
		r.sendText(chatID, "Empty message, nothing sent.")
		return
	}
	fwd := tgbotapi.NewMessage(r.adminID, fmt.Sprintf("✉️ Feedback from %d:\n\n%s", chatID, text))
	fwd.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reply", fmt.Sprintf("reply:%d", chatID)),
		),
	)
	if _, err := r.bot.Send(fwd); err != nil {
		r.log.Error("feedback forward failed", zap.Error(err))
		r.sendText(chatID, "Could not deliver your feedback. Please try again later.")
		return
	}
	r.sendText(chatID, feedbackSentText)
}

func (r *Router) handleAdminReplyStart(chatID int64, target string) {
	if chatID != r.adminID {
		return
	}
	userID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		r.log.Warn("bad admin reply target", zap.String("target", target))
		return
	}
	r.setPending(chatID, pendingAction{kind: pendingAdminReply, targetUser: userID})
	r.sendText(chatID, fmt.Sprintf("Enter the reply for user %d:", userID))
}

func (r *Router) handleAdminReplyText(chatID, target int64, text string) {
	if chatID != r.adminID || text == "" {
		return
	}
	if err := r.SendMessage(target, "Reply from the developer: "+text); err != nil {
		r.log.Error("admin reply failed", zap.Error(err), zap.Int64("target", target))
		r.sendText(chatID, "Could not deliver the reply.")
		return
	}
	r.sendText(chatID, "Reply delivered.")
}
