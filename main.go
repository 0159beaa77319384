package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/pinpoint-geo/pinpoint/api"
	"github.com/pinpoint-geo/pinpoint/geodb"
)

const shutdownTimeout = 10 * time.Second

var (
	app = kingpin.New(
		"pinpoint",
		"IP geolocation service on top of a self-updating database")

	debug = app.Flag("debug", "Run in debug mode.").
		Short('d').
		Envar("PINPOINT_DEBUG").
		Bool()
	configFile = app.Arg("config-path", "Path to the config.").
			Envar("PINPOINT_CONFIG_PATH").
			String()
)

func init() {
	app.Version(version)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	conf, err := parseConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot read config")
	}

	if err := os.MkdirAll(conf.GetDataDirectory(), 0777); err != nil {
		log.Fatal().Err(err).Msg("cannot create the data directory")
	}

	fs := afero.NewBasePathFs(afero.NewOsFs(), conf.GetDataDirectory())

	store, err := geodb.NewStore(fs, conf.GetRetention())
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open the data directory")
	}

	appLogger := newLogger()
	slot := geodb.NewSlot()

	locator, err := geodb.NewLocator(slot, appLogger,
		conf.GetCacheSize(),
		conf.GetWorkerPoolSize())
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create a locator")
	}

	defer locator.Shutdown()

	updater := geodb.NewUpdater(geodb.UpdaterOpts{
		Fs:          fs,
		Store:       store,
		Validator:   geodb.NewValidator(fs, conf.GetMinFileSize(), conf.GetMinSizeRatio()),
		Slot:        slot,
		Client:      makeHTTPClient(conf),
		Logger:      appLogger,
		URL:         conf.GetDatabaseURL(),
		UpdateEvery: conf.GetUpdateEvery(),
		OnSwap:      locator.InvalidateCache,
	})

	ctx, cancel := makeRootContext()
	defer cancel()

	// readiness blocks until a database is serving: either the stored
	// generation or a freshly bootstrapped one.
	if err := updater.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("cannot bring a database up")
	}

	srv := api.MakeHTTPServer(conf.GetListen(), api.MakeServer(locator, api.Opts{
		AllowedHosts: conf.GetAllowedHosts(),
		APIKey:       conf.GetAPIKey(),
	}))

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			shutdownTimeout)
		defer shutdownCancel()

		srv.Shutdown(shutdownCtx) // nolint: errcheck
	}()

	log.Info().Str("listen", conf.GetListen()).Msg("service is ready")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server has failed")
	}
}
