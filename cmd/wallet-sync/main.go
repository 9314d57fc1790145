package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moff.io/wallet-sync/internal/auth"
	"moff.io/wallet-sync/internal/aws"
	"moff.io/wallet-sync/internal/cache"
	"moff.io/wallet-sync/internal/chains"
	"moff.io/wallet-sync/internal/config"
	"moff.io/wallet-sync/internal/connection"
	"moff.io/wallet-sync/internal/database"
	"moff.io/wallet-sync/internal/databus"
	"moff.io/wallet-sync/internal/http"
	"moff.io/wallet-sync/internal/signin"
	"moff.io/wallet-sync/internal/starter"
	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/internal/walletconnect"
	"moff.io/wallet-sync/pkg/errors"
	"moff.io/wallet-sync/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func setupReporters(conf *config.Configuration) {
	if conf.SentryDSN != "" {
		if err := errors.NewSentryReporter(conf.SentryDSN); err != nil {
			log.Warnf("init sentry reporter: %v", err)
		}
	}
	if conf.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(conf.LarkAlarmWebhook, time.Minute)
	}
	if conf.DingTalk.Webhook != "" {
		errors.NewDingTalkReporter(conf.DingTalk.Webhook, conf.DingTalk.Secret, time.Minute)
	}
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevelName(conf.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var awsClients *aws.Clients
	if conf.NeedsSecrets() || conf.Aws.StateQueueURL != "" {
		var err error
		if awsClients, err = aws.New(ctx, conf.Aws.Region); err != nil {
			log.Fatal(err)
		}
	}
	if conf.NeedsSecrets() {
		if err := conf.ResolveSecrets(ctx, awsClients); err != nil {
			log.Fatal(err)
		}
	}
	if err := conf.Validate(); err != nil {
		log.Fatal(err)
	}
	setupReporters(conf)

	list, err := chains.Resolve(conf.Wallet.Chains)
	if err != nil {
		log.Fatal(err)
	}
	opts := connection.Options{
		App: walletconnect.Meta{
			Name:        conf.Wallet.App.Name,
			Description: conf.Wallet.App.Description,
			URL:         conf.Wallet.App.URL,
			Icons:       conf.Wallet.App.Icons,
		},
		ProjectID:    conf.Wallet.ProjectID,
		Chains:       list,
		AlchemyKey:   conf.Wallet.AlchemyKey,
		InjectedKey:  conf.Wallet.InjectedKey,
		BridgeURL:    conf.Wallet.BridgeURL,
		AutoConnect:  conf.Wallet.AutoConnect,
		ModalTimeout: conf.Wallet.ModalTimeout,
		QRFilePath:   conf.Wallet.QRFilePath,
	}
	if conf.SignIn.Enabled {
		opts.SignIn = &signin.Options{
			Paths:     conf.SignIn.ResolvedPaths(),
			Domain:    conf.SignIn.Domain,
			Origin:    conf.SignIn.Origin,
			Statement: conf.SignIn.Statement,
		}
	}
	authOpts := auth.Options{
		Domain:         conf.AuthServer.Domain,
		NonceTTL:       conf.AuthServer.NonceTTL,
		SessionTTL:     conf.AuthServer.SessionTTL,
		CookieSecure:   conf.AuthServer.CookieSecure,
		MaxConcurrency: conf.AuthServer.MaxConcurrency,
	}

	if conf.RedisCredential.Enabled() {
		c, err := cache.Connect(ctx, &conf.RedisCredential)
		if err != nil {
			log.Fatal(err)
		}
		defer c.Close()
		opts.Storage = c.Storage()
		authOpts.Nonces, authOpts.Sessions = c.Nonces(), c.Sessions()
		if conf.AuthServer.NoncesPerMinute > 0 {
			authOpts.Limiter = c.PerMinute(conf.AuthServer.NoncesPerMinute)
		}
		if conf.AuthServer.RevokeOnStart {
			if err := c.DeleteFromPrefix(ctx, "session:"); err != nil {
				log.Error(err)
			}
		}
	}

	var sinks []databus.Sink
	if conf.Postgres.Enabled() {
		db, err := database.Open(&conf.Postgres)
		if err != nil {
			log.Fatal(err)
		}
		defer database.Close(db)
		authOpts.Recorder = database.NewRecorder(db)
		sinks = append(sinks, database.NewHistory(db))
	}
	if conf.KafkaServer != "" {
		bus, err := databus.NewDataBus(conf.KafkaServer, conf.KafkaTopic)
		if err != nil {
			log.Fatal(err)
		}
		defer bus.Close()
		sinks = append(sinks, bus)
	}
	if awsClients != nil && conf.Aws.StateQueueURL != "" {
		sinks = append(sinks, awsClients.QueueSink(conf.Aws.StateQueueURL))
	}

	st := store.New()
	manager := connection.NewManager(st)
	defer manager.Close()

	var authServer *auth.Server
	if conf.AuthServer.Enabled {
		authServer = auth.NewServer(authOpts)
	}
	var elems []starter.Startable
	if len(sinks) > 0 {
		elems = append(elems, databus.NewFanout(st, sinks...))
	}
	elems = append(elems, http.NewServer(manager, http.Options{Auth: authServer}))
	stop := starter.Start(ctx, elems...)
	defer stop()

	// The sign-in API may be served by this process, so configure once the
	// server is listening.
	if err := manager.Configure(ctx, opts); err != nil {
		log.Error(errors.WrapAndReport(err, "configure wallet"))
	}
	<-ctx.Done()
	log.Info("Shutting down...")
}
