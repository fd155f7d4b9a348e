package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/tutur"
)

var speakCmd = &cobra.Command{
	Use:   "speak TEXT",
	Short: "Synthesize speech for TEXT",
	Long: `Synthesizes TEXT and writes the raw audio to --out (stdout by default).
While audio plays, stdin accepts the control lines pause, resume, mute, unmute and stop.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpeak,
}

func init() {
	speakCmd.Flags().StringP("out", "o", "-", "Audio destination file, or - for stdout")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("speak: text is required")
	}

	outPath, _ := cmd.Flags().GetString("out")
	var dst io.Writer = cmd.OutOrStdout()
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		dst = f
	}
	player := audio.NewPlayer(dst)
	defer player.Close()

	app, err := tutur.NewApp(cfg, tutur.Options{Logger: logger, Player: player})
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Final text is not printed for synthesis, so stdout stays pure audio.
	return runSession(ctx, app, session.Request{Mode: session.ModeSynthesis, Text: text}, cmd.InOrStdin(), io.Discard, cmd.ErrOrStderr())
}
