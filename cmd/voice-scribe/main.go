package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voice-scribe-service/internal/audio"
	"voice-scribe-service/internal/config"
	"voice-scribe-service/internal/engine"
	"voice-scribe-service/internal/events"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability"
	"voice-scribe-service/internal/observability/logging"
	"voice-scribe-service/internal/recorder"
	"voice-scribe-service/internal/transcriber"
	"voice-scribe-service/internal/voice"
)

// VAD parameters passed to the inference server. These mirror the capture
// side: pauses shorter than the recorder's silence timeout stay inside one
// segment, so the engine only needs to split on longer gaps.
const (
	vadMinSilenceMs = 500
	vadPaddingMs    = 200
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	root := &cobra.Command{
		Use:           "voice-scribe",
		Short:         "Record multi-speaker voice sessions and assemble transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(recordCmd(cfg), transcribeCmd(cfg))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func recordCmd(cfg *config.Configuration) *cobra.Command {
	var (
		roomID          string
		roomName        string
		duration        time.Duration
		transcribeAfter bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice room until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			publisher := events.New(&events.Config{
				Enabled:         cfg.Kafka.Enabled,
				Brokers:         cfg.Kafka.Brokers,
				TopicSession:    cfg.Kafka.TopicSession,
				TopicTranscript: cfg.Kafka.TopicTranscript,
				Principal:       cfg.Service.Principal,
			})
			defer publisher.Close()

			gateway := voice.NewWebsocketGateway(cfg.Voice.GatewayURL, cfg.Voice.AuthToken)
			recCfg := recorder.Config{
				StorageRoot:     cfg.Recording.StorageRoot,
				SilenceTimeout:  cfg.Recording.SilenceTimeout,
				MinSegmentBytes: cfg.Recording.MinSegmentBytes,
				SampleRate:      cfg.Recording.SampleRate,
				Channels:        cfg.Recording.Channels,
				Principal:       cfg.Service.Principal,
			}
			if cfg.Recording.Codec == "pcm" {
				recCfg.NewDecoder = func() audio.FrameDecoder { return audio.PCMPassthrough{} }
			}
			rec := recorder.New(recCfg, gateway, publisher)

			obs := observability.NewServer(cfg.Service.HTTPAddr, func() []observability.SessionInfo {
				var out []observability.SessionInfo
				for _, st := range rec.Snapshot() {
					out = append(out, observability.SessionInfo{
						SessionID: st.SessionID,
						RoomID:    st.RoomID,
						StartedAt: st.StartedAt.UTC().Format(time.RFC3339),
						Speakers:  st.Speakers,
					})
				}
				return out
			})
			obs.Start()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				obs.Shutdown(ctx)
			}()

			session, err := rec.Start(cmd.Context(), models.Room{ID: roomID, Name: roomName})
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			if duration > 0 {
				select {
				case <-sig:
				case <-time.After(duration):
					log.Info().Dur("duration", duration).Msg("Recording duration reached")
				}
			} else {
				<-sig
			}

			stopped, err := rec.Stop(roomID)
			if err != nil {
				return err
			}
			log.Info().
				Str("dir", stopped.Dir).
				Int("segments", len(stopped.Segments())).
				Msg("Session recorded")

			if transcribeAfter {
				return runTranscription(cmd.Context(), cfg, publisher, stopped.Dir)
			}
			fmt.Println(session.Dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "voice room identifier (required)")
	cmd.Flags().StringVar(&roomName, "name", "", "human-readable room name")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop automatically after this long (0 = until signal)")
	cmd.Flags().BoolVar(&transcribeAfter, "transcribe", false, "run transcription after the session stops")
	cmd.MarkFlagRequired("room")
	return cmd
}

func transcribeCmd(cfg *config.Configuration) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <session-dir>",
		Short: "Assemble transcripts for a recorded session directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			publisher := events.New(&events.Config{
				Enabled:         cfg.Kafka.Enabled,
				Brokers:         cfg.Kafka.Brokers,
				TopicSession:    cfg.Kafka.TopicSession,
				TopicTranscript: cfg.Kafka.TopicTranscript,
				Principal:       cfg.Service.Principal,
			})
			defer publisher.Close()

			return runTranscription(cmd.Context(), cfg, publisher, args[0])
		},
	}
}

func runTranscription(ctx context.Context, cfg *config.Configuration, publisher *events.Publisher, sessionDir string) error {
	loader := engine.NewHTTPLoader(cfg.Engine.Endpoint)

	resolved, err := engine.Resolve(cfg.Engine.Profile, engine.Overrides{
		Device:      cfg.Engine.Device,
		Model:       cfg.Engine.Model,
		Precision:   cfg.Engine.Precision,
		BeamSize:    cfg.Engine.BeamSize,
		Language:    cfg.Engine.Language,
		VADFilter:   cfg.Engine.VADFilter,
		StripFiller: cfg.Engine.StripFiller,
		AlignWords:  cfg.Engine.AlignWords,
		Mock:        cfg.Engine.Mock,
	}, loader.DeviceAvailable)
	if err != nil {
		return err
	}

	eng, resolved, err := engine.Provision(resolved, loader)
	if err != nil {
		return err
	}
	defer eng.Close()

	seg := transcriber.NewSegmenter(eng, resolved, nil, transcriber.SegmenterOptions{
		DedupeWindow: cfg.Timeline.DedupeWindow,
		MinSilenceMs: vadMinSilenceMs,
		PaddingMs:    vadPaddingMs,
	})
	pipeline := transcriber.New(transcriber.Config{
		MergeMaxGap:     cfg.Timeline.MergeMaxGap,
		MergeMaxChars:   cfg.Timeline.MergeMaxChars,
		MinSegmentBytes: cfg.Recording.MinSegmentBytes,
	}, seg, publisher)

	res, err := pipeline.Run(ctx, sessionDir)
	if err != nil {
		return err
	}
	log.Info().
		Str("model", resolved.Model).
		Str("device", string(resolved.Device)).
		Int("speakers", res.Speakers).
		Int("segments", res.Segments).
		Msg("Transcripts assembled")
	fmt.Println(res.TimelinePath)
	return nil
}
