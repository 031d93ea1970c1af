package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/perchlabs/voicerelay/internal/capture"
)

var version = "0.1.0-dev"

const welcomeMessage = "Hello! I'm your customer service assistant. How can I help you today?"

// exitWords end the conversation when they appear in a reply.
var exitWords = []string{"goodbye", "exit", "quit", "bye"}

func main() {
	var (
		serverURL   string
		recordCmd   string
		playCmd     string
		sessionID   string
		duration    time.Duration
		sampleRate  int
		channels    int
		oneShot     bool
		showVersion bool
	)

	flag.StringVar(&serverURL, "server", "http://127.0.0.1:8080", "voicerelayd base URL")
	flag.StringVar(&recordCmd, "record-cmd", "arecord -q -f S16_LE -r 16000 -c 1 -t wav -", "Command that writes captured audio to stdout")
	flag.StringVar(&playCmd, "play-cmd", "ffplay -nodisp -autoexit -loglevel quiet", "Command that plays an audio URL")
	flag.StringVar(&sessionID, "session", "", "Session id (defaults to a fresh UUID)")
	flag.DurationVar(&duration, "duration", 5*time.Second, "How long to record each turn")
	flag.IntVar(&sampleRate, "rate", 16000, "Capture sample rate")
	flag.IntVar(&channels, "channels", 1, "Capture channel count")
	flag.BoolVar(&oneShot, "once", false, "Run a single record/submit/play turn and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	source, err := capture.NewExecSource(recordCmd, sampleRate, channels)
	if err != nil {
		fatal("invalid record command: %v", err)
	}
	player, err := capture.NewExecPlayer(playCmd, serverURL)
	if err != nil {
		fatal("invalid play command: %v", err)
	}
	submitter := capture.NewHTTPSubmitter(serverURL+"/api/submissions", 2*time.Minute)

	session := capture.NewSession(sessionID, source, submitter, player, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println(welcomeMessage)

	for {
		done, err := runTurn(ctx, session, duration)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fatal("%v", err)
		}
		if done || oneShot || ctx.Err() != nil {
			break
		}
	}

	fmt.Fprintln(os.Stderr, "session ended")
}

// runTurn records one utterance, submits it, prints and plays the
// reply. done is true when the reply closes the conversation.
func runTurn(ctx context.Context, session *capture.Session, duration time.Duration) (bool, error) {
	fmt.Fprintf(os.Stderr, "recording for %s (ctrl-c to stop)...\n", duration)
	if err := session.Record(ctx); err != nil {
		return false, fmt.Errorf("record: %w", err)
	}

	timer := time.NewTimer(duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	if err := session.Finalize(); err != nil {
		return false, fmt.Errorf("finalize: %w", err)
	}

	// Submission continues even after ctrl-c ended the recording.
	submitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reply, err := session.Submit(submitCtx)
	if err != nil {
		return false, fmt.Errorf("submit: %w", err)
	}

	fmt.Println(reply.Text)

	if err := session.PlayReply(submitCtx); err != nil {
		fmt.Fprintf(os.Stderr, "playback failed: %v\n", err)
	}

	return isFarewell(reply.Text), nil
}

// isFarewell reports whether a reply closes the conversation.
func isFarewell(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range exitWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
