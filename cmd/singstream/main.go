package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebovdev/singstream/internal/cache"
	"github.com/glebovdev/singstream/internal/config"
	"github.com/glebovdev/singstream/internal/device"
	"github.com/glebovdev/singstream/internal/ingest"
	"github.com/glebovdev/singstream/internal/metrics"
	"github.com/glebovdev/singstream/internal/session"
	"github.com/glebovdev/singstream/internal/sink"
	"github.com/glebovdev/singstream/internal/status"
	"github.com/glebovdev/singstream/internal/track"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	versionFlag  = flag.Bool("version", false, "Show version information")
	debugFlag    = flag.Bool("debug", false, "Enable debug logging")
	songFlag     = flag.String("song", "", "Song name to play")
	artistFlag   = flag.String("artist", "", "Artist name, combined with -song")
	idFlag       = flag.String("id", "", "Play a song by server-side identifier")
	urlFlag      = flag.String("url", "", "Play a stream URL directly")
	rememberFlag = flag.Bool("remember", false, "With -song and -id, remember the id for later requests by name")
	metricsFlag  = flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Without a song, id or url the last request is played again.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

// cueNotifier plays the not-found chime and hands the audio path back to
// the voice pipeline.
type cueNotifier struct {
	cue sink.Cue
	hub *device.Hub
}

func (n cueNotifier) NotFound() {
	if err := n.cue.PlayCue(); err != nil {
		log.Warn().Err(err).Msg("Failed to play not-found cue")
	}
}

func (n cueNotifier) ResumeListening() {
	n.hub.ResumeListening()
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}
	if *metricsFlag != "" {
		cfg.MetricsListen = *metricsFlag
	}

	if *debugFlag {
		if configPath, err := config.GetConfigPath(); err == nil {
			log.Debug().Msgf("Config: %s", configPath)
		}
		log.Debug().Msgf("Base host: %s", cfg.BaseHost)
	}

	songCache, err := cache.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Song id cache unavailable")
	} else if err := songCache.CleanExpired(); err != nil {
		log.Debug().Err(err).Msg("Song id cache cleanup failed")
	}

	if *rememberFlag {
		if err := remember(songCache); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		log.Warn().Err(err).Msg("Metrics disabled")
		m = nil
	}

	speaker := sink.NewSpeaker(cfg.OutputSampleRate, cfg.SpeakerBuffer(), m)
	defer speaker.Close()

	hub := device.NewHub(device.StateIdle)

	opts := session.Options{
		Config:    cfg,
		Transport: ingest.NewHTTPTransport(cfg.OpenTimeout(), cfg.CloseGrace()),
		Sink:      speaker,
		Device:    hub,
		Display:   status.NewLogDisplay(),
		Notifier:  cueNotifier{cue: speaker, hub: hub},
		Metrics:   m,
	}
	if songCache != nil {
		opts.Resolver = songCache
	}
	ctrl := session.NewController(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" && m != nil {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsListen); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	query, err := startRequested(ctrl, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		speaker.Close()
		os.Exit(2)
	}

	if err := ctrl.Wait(ctx); err != nil {
		log.Info().Msg("Received shutdown signal, stopping...")
		if err := ctrl.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping session")
		}
	}

	if ctrl.LastFailure() == session.FailureHTTPNotFound {
		fmt.Fprintln(os.Stderr, "Song not found")
		time.Sleep(sink.CueLength)
	}

	st := ctrl.Stats()
	log.Debug().
		Int64("downloaded", st.BytesDownloaded).
		Int64("played", st.Playback.BytesPlayed).
		Int64("frames", st.Playback.Frames).
		Dur("play_time", st.Playback.PlayTime).
		Int64("underruns", speaker.Underruns()).
		Msg("Session summary")

	if query != "" {
		if err := config.SaveLastQuery(query); err != nil {
			log.Warn().Err(err).Msg("Failed to save config")
		}
	}

	if failure := ctrl.LastFailure(); failure != session.FailureNone {
		log.Error().Str("failure", failure.String()).Msg("Playback failed")
		speaker.Close()
		os.Exit(1)
	}
}

func setupLogging() {
	if !*debugFlag {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cacheDir, err := cache.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

func remember(songCache *cache.Cache) error {
	if songCache == nil {
		return fmt.Errorf("song id cache unavailable")
	}
	if *songFlag == "" || *idFlag == "" {
		return fmt.Errorf("-remember needs both -song and -id")
	}
	if err := songCache.SaveSongID(*songFlag, *artistFlag, *idFlag); err != nil {
		return err
	}
	log.Info().Msgf("Remembered %q as song id %s", *songFlag, *idFlag)
	return nil
}

// startRequested starts the session the flags ask for and returns the raw
// query to remember for the next run.
func startRequested(ctrl *session.Controller, cfg *config.Config) (string, error) {
	switch {
	case *urlFlag != "":
		return "", ctrl.Start(*urlFlag)
	case *idFlag != "":
		req := track.Request{ID: *idFlag}
		return req.RawQuery(), ctrl.StartByID(*idFlag)
	case *songFlag != "" || *artistFlag != "":
		req := track.Request{Song: *songFlag, Artist: *artistFlag}
		return req.RawQuery(), ctrl.StartSong(*songFlag, *artistFlag)
	case cfg.LastQuery != "":
		log.Info().Msgf("Replaying last request: %s", cfg.LastQuery)
		return cfg.LastQuery, ctrl.StartByID(cfg.LastQuery)
	default:
		return "", fmt.Errorf("nothing to play")
	}
}
