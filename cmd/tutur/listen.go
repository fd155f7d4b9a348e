package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/tutur/pkg/audio"
	"github.com/harunnryd/tutur/pkg/session"
	"github.com/harunnryd/tutur/pkg/tutur"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Recognize one utterance from an audio file or stdin",
	Long: `Streams raw audio to the recognition engine and prints the final transcript.
Partial transcripts are written to stderr while recognition runs. When the
audio comes from a file, stdin accepts the control lines pause, resume and stop.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringP("file", "f", "-", "Audio file to recognize, or - for stdin")
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("file")

	app, err := tutur.NewApp(cfg, tutur.Options{
		Logger: logger,
		Source: func() (*audio.Source, error) { return audio.OpenFile(path) },
	})
	if err != nil {
		return err
	}
	defer app.Close()

	var controls io.Reader
	if path != "-" {
		controls = cmd.InOrStdin()
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runSession(ctx, app, session.Request{Mode: session.ModeRecognition}, controls, cmd.OutOrStdout(), cmd.ErrOrStderr())
}
