package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/config"
	"github.com/ivchenkov/meteobot/internal/conversation"
	"github.com/ivchenkov/meteobot/internal/scheduler"
	"github.com/ivchenkov/meteobot/internal/store"
	"github.com/ivchenkov/meteobot/internal/telegram"
	"github.com/ivchenkov/meteobot/internal/weather"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	sched   *scheduler.Scheduler
	router  *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	return &App{cfg: cfg, log: log, bot: bot, httpSrv: srv}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting meteobot",
		zap.String("home_tz", a.cfg.HomeTZ),
		zap.String("http", a.cfg.HTTPAddr),
	)

	loc, err := time.LoadLocation(a.cfg.HomeTZ)
	if err != nil {
		return fmt.Errorf("load home timezone %q: %w", a.cfg.HomeTZ, err)
	}

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	gateway := weather.NewOpenWeather(a.cfg.WeatherAPIKey, a.cfg.WeatherTimeout)

	// The router is the Sender for scheduled notifications; it is built
	// before the scheduler starts but receives no updates until polling
	// begins below.
	a.sched = scheduler.New(repo, gateway, &senderProxy{a: a}, a.log, loc,
		a.cfg.RainInterval, a.cfg.RainSuppression, a.cfg.JobTimeout)
	engine := conversation.New(repo, a.sched, a.log)
	a.router = telegram.NewRouter(a.bot, a.log, repo, engine, a.sched, gateway, a.cfg.AdminChatID)

	// Rehydrate before any conversation input: a crash-and-restart must
	// never silently lose a recurring job. A store failure here is fatal.
	if err := a.sched.Rehydrate(ctx); err != nil {
		a.log.Error("rehydrate failed, aborting startup", zap.Error(err))
		return err
	}
	a.sched.Start()

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			a.sched.Stop()

			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()
			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}

// senderProxy lets the scheduler send through the router, which is
// constructed after the scheduler (the scheduler needs a Sender, the router
// needs the scheduler).
type senderProxy struct{ a *App }

func (p *senderProxy) SendMessage(chatID int64, text string) error {
	return p.a.router.SendMessage(chatID, text)
}
