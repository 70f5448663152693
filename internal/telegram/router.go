package telegram

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/conversation"
	"github.com/ivchenkov/meteobot/internal/scheduler"
	"github.com/ivchenkov/meteobot/internal/store"
	"github.com/ivchenkov/meteobot/internal/weather"
)

// Pending states outside the subscription flow.
const (
	pendingFeedback   = "await_feedback_text"
	pendingAdminReply = "await_admin_reply_text"
)

type pendingAction struct {
	kind       string
	targetUser int64 // admin reply target
}

// Router wires Telegram updates to handlers. The subscription flow lives in
// conversation.Engine; the router only keeps the small feedback/admin-reply
// pending state.
type Router struct {
	bot     *tgbotapi.BotAPI
	log     *zap.Logger
	repo    store.Repo
	engine  *conversation.Engine
	sched   *scheduler.Scheduler
	gateway weather.Gateway
	adminID int64

	mu      sync.RWMutex
	pending map[int64]pendingAction
}

// NewRouter creates a Telegram router. adminID may be 0, which disables the
// feedback relay.
func NewRouter(bot *tgbotapi.BotAPI, log *zap.Logger, repo store.Repo, engine *conversation.Engine, sched *scheduler.Scheduler, gateway weather.Gateway, adminID int64) *Router {
	return &Router{
		bot:     bot,
		log:     log,
		repo:    repo,
		engine:  engine,
		sched:   sched,
		gateway: gateway,
		adminID: adminID,
		pending: make(map[int64]pendingAction),
	}
}

func (r *Router) setPending(chatID int64, p pendingAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[chatID] = p
}

func (r *Router) takePending(chatID int64) (pendingAction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[chatID]
	delete(r.pending, chatID)
	return p, ok
}

func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, chatID)
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		if msg.Location != nil {
			r.handleLocation(ctx, chatID, msg.Location.Latitude, msg.Location.Longitude)
			return
		}
		text := strings.TrimSpace(msg.Text)
		cmd, args := splitCommand(text)

		switch cmd {
		case "/start":
			r.handleStart(ctx, chatID)
		case "/weather":
			r.handleWeather(ctx, chatID, args)
		case "/forecast":
			r.handleForecast(ctx, chatID, args)
		case "/hourly":
			r.handleHourly(ctx, chatID, args)
		case "/subscribe":
			r.handleSubscribe(ctx, chatID)
		case "/cancel":
			r.handleCancel(ctx, chatID)
		case "/mysubs":
			r.handleMySubs(ctx, chatID)
		case "/unsubscribe":
			r.handleUnsubscribe(ctx, chatID, args)
		case "/setcity":
			r.handleSetCity(ctx, chatID, args)
		case "/getcity":
			r.handleGetCity(ctx, chatID)
		case "/addfav":
			r.handleAddFav(ctx, chatID, args)
		case "/listfav":
			r.handleListFav(ctx, chatID)
		case "/feedback":
			r.handleFeedbackStart(chatID)
		default:
			r.handleFreeForm(ctx, chatID, text)
		}
		return
	}

	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		r.handleCallback(ctx, cb.Message.Chat.ID, cb.Data, cb.ID)
	}
}

// handleCallback maps inline-button taps onto conversation inputs and
// favorite-city lookups.
func (r *Router) handleCallback(ctx context.Context, chatID int64, data, cbID string) {
	_ = r.answerCallback(cbID, "")

	switch {
	case strings.HasPrefix(data, "kind:"):
		r.advanceConversation(ctx, chatID, strings.TrimPrefix(data, "kind:"))
	case data == "wd:done":
		r.advanceConversation(ctx, chatID, conversation.InputDone)
	case strings.HasPrefix(data, "wd:"):
		r.advanceConversation(ctx, chatID, strings.TrimPrefix(data, "wd:"))
	case data == "conv:cancel":
		r.advanceConversation(ctx, chatID, conversation.InputCancel)
	case strings.HasPrefix(data, "fav:"):
		r.handleWeather(ctx, chatID, strings.TrimPrefix(data, "fav:"))
	case strings.HasPrefix(data, "reply:"):
		r.handleAdminReplyStart(chatID, strings.TrimPrefix(data, "reply:"))
	default:
		// Unknown callback — ignore silently
	}
}

// handleFreeForm dispatches non-command text: first the subscription flow,
// then feedback/admin-reply, otherwise a hint.
func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	if r.engine.InProgress(chatID) {
		r.advanceConversation(ctx, chatID, text)
		return
	}

	if p, ok := r.takePending(chatID); ok {
		switch p.kind {
		case pendingFeedback:
			r.handleFeedbackText(chatID, text)
		case pendingAdminReply:
			r.handleAdminReplyText(chatID, p.targetUser, text)
		}
		return
	}

	r.sendText(chatID, unknownText)
}

// SendMessage sends a plain text message to the given chat.
// This makes Router satisfy scheduler.Sender.
func (r *Router) SendMessage(chatID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// splitCommand separates "/cmd arg arg" into the command (with any @bot
// suffix stripped) and the argument remainder.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd = text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmd, args = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, args
}
