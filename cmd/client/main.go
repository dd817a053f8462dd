package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v3"

	"github.com/virtualclinic/roomcast/internal/config"
	"github.com/virtualclinic/roomcast/internal/peer"
	"github.com/virtualclinic/roomcast/lib/logger/sl"
	"github.com/virtualclinic/roomcast/lib/logger/slogpretty"
)

func main() {
	var (
		serverURL string
		username  string
		room      string
	)
	// Registered before MustLoad, which runs flag.Parse for -config.
	flag.StringVar(&serverURL, "server", "ws://localhost:8080/ws", "signaling server websocket URL")
	flag.StringVar(&username, "name", "", "display name")
	flag.StringVar(&room, "room", "", "room to join")

	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	if username == "" || room == "" {
		fmt.Fprintln(os.Stderr, "usage: client -name <name> -room <room> [-server <url>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := peer.DialSignaling(ctx, serverURL)
	if err != nil {
		log.Error("failed to dial signaling server",
			slog.String("url", serverURL), sl.Err(err))
		os.Exit(1)
	}

	session := peer.NewSession(staticDevices{}, peer.NewFactory(cfg.WebRTC.STUNServers), sc, log)

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	if err := session.Start(ctx, username, room); err != nil {
		log.Error("failed to start session", sl.Err(err))
		session.Close()
		os.Exit(1)
	}

	log.Info("joined room",
		slog.String("room", room), slog.String("username", username))

	if err := session.Run(sc); err != nil && ctx.Err() == nil {
		log.Error("signaling channel dropped", sl.Err(err))
		os.Exit(1)
	}
}

// staticDevices builds sample-fed local tracks; capture pipelines push frames
// into them via WriteSample.
type staticDevices struct{}

func (staticDevices) GetUserMedia(context.Context) (peer.MediaStream, error) {
	audio, err := peer.NewSampleTrack(peer.TrackKindAudio, "audio0", "camera",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2})
	if err != nil {
		return nil, &peer.MediaAccessError{Device: "microphone", Err: err}
	}
	video, err := peer.NewSampleTrack(peer.TrackKindVideo, "video0", "camera",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
	if err != nil {
		return nil, &peer.MediaAccessError{Device: "camera", Err: err}
	}
	return peer.NewStream(audio, video), nil
}

func (staticDevices) GetDisplayMedia(context.Context) (peer.MediaStream, error) {
	screen, err := peer.NewSampleTrack(peer.TrackKindVideo, "screen0", "screen",
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
	if err != nil {
		return nil, &peer.MediaAccessError{Device: "display", Err: err}
	}
	return peer.NewStream(screen), nil
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
