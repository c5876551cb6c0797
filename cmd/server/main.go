package main

import (
	"aprendecomigo/impl/auth"
	"aprendecomigo/impl/core"
	"aprendecomigo/internal/approval"
	"aprendecomigo/internal/config"
	"aprendecomigo/internal/database"
	"aprendecomigo/internal/events"
	"aprendecomigo/internal/http-server/api"
	"aprendecomigo/internal/invitation"
	"aprendecomigo/internal/ledger"
	"aprendecomigo/internal/mailer"
	"aprendecomigo/internal/notify"
	"aprendecomigo/internal/stripeclient"
	"aprendecomigo/internal/sweeper"
	"aprendecomigo/internal/telegram"
	"aprendecomigo/lib/logger"
	"aprendecomigo/lib/sl"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

const logFileName = "aprendecomigo.log"

// Store is the document store behind every engine.
type Store interface {
	invitation.Repository
	approval.Repository
	notify.Repository
	core.Repository
	auth.Database
}

type Mailer interface {
	invitation.Mailer
	notify.Mailer
}

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	log, err := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	log.Info("starting aprendecomigo", slog.String("config", *configPath), slog.String("env", conf.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tgBot *telegram.TgBot
	if conf.Telegram.Enabled {
		tgBot, err = telegram.NewTgBot(conf.Telegram, log)
		if err != nil {
			log.Error("telegram bot", sl.Err(err))
		} else {
			go func() {
				if err := tgBot.Start(); err != nil {
					log.Error("telegram bot start", sl.Err(err))
				}
			}()
			defer tgBot.Stop()
			log = logger.WithAlerts(log, tgBot, slog.Level(conf.Telegram.LogLevel))
			log.Info("telegram bot initialized")
		}
	}

	var store Store
	var txLedger approval.Ledger
	if conf.Mongo.Enabled {
		mongo, err := database.NewMongoClient(ctx, conf)
		if err != nil {
			log.Error("mongo client", sl.Err(err))
			return
		}
		defer func() {
			_ = mongo.Close(context.Background())
		}()
		store = mongo
		txLedger = mongo
		log.Info("mongo client initialized")
	} else {
		memory := database.NewMemory()
		store = memory
		txLedger = memory
		log.Warn("mongo disabled, using in-memory store")
	}

	if conf.Ledger.Enabled {
		sqlLedger, err := ledger.NewSQLClient(conf)
		if err != nil {
			log.Error("ledger client", sl.Err(err))
			return
		}
		defer sqlLedger.Close()
		txLedger = sqlLedger
		log.Info("mysql ledger initialized")
	}

	var mail Mailer
	if conf.Mail.Enabled {
		mail = mailer.NewResend(conf.Mail, log)
	} else {
		mail = mailer.NewLog(log)
		log.Warn("mail disabled, emails are only logged")
	}

	bus := events.NewBus(log)
	invitations := invitation.New(conf, store, mail, bus, log)
	approvals := approval.New(conf, store, txLedger, bus, log)
	notifications := notify.New(conf, store, mail, log)
	bus.Subscribe(notifications.RecordActivity)
	bus.Subscribe(notifications.HandleEvent)

	handler := core.New(store, invitations, approvals, notifications, log)
	handler.SetAuthService(auth.New(store))

	if conf.Stripe.Enabled {
		sc := stripeclient.New(conf, log)
		approvals.SetCheckout(sc)
		handler.SetPayments(sc)
		log.Info("stripe client initialized")
	}

	if conf.Sweeper.Enabled {
		interval := time.Duration(conf.Sweeper.IntervalMin) * time.Minute
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		sw := sweeper.New(interval, log,
			sweeper.Job{Name: "invitations", Expirer: invitations},
			sweeper.Job{Name: "approval requests", Expirer: approvals},
		)
		sw.StartTicker()
		defer sw.Stop()
		if tgBot != nil {
			tgBot.SetStatusReporter(sw)
		}
	}

	server, err := api.New(conf, log, handler)
	if err != nil {
		log.Error("server create", sl.Err(err))
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", sl.Err(err))
		}
	}()

	if err = server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server start", sl.Err(err))
	}
	log.Info("service stopped")
}
