package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"narrator-server/internal/client"
)

func describeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Upload an image and save the spoken description",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "narrator server origin",
				Value:   "http://localhost:8080",
				EnvVars: []string{"NARRATOR_SERVER"},
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "where to write the MP3",
				Value:   "description.mp3",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall request timeout",
				Value: 2 * time.Minute,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug logging",
			},
		},
		Action: describeAction,
	}
}

func describeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("describe takes exactly one image path", 1)
	}
	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctrl, err := client.New(client.Options{
		ServerURL: c.String("server"),
		UserAgent: "narrator-cli/" + version,
		Announcer: client.NewTextAnnouncer(c.App.ErrWriter, logger),
		Logger:    logger,
	})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer ctrl.Close()

	sel, err := client.SelectionFromFile(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Debug("selected file",
		zap.String("name", sel.Name),
		zap.String("mime", sel.MimeType),
		zap.Int64("size", sel.Size))

	ctx := c.Context
	if d := c.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	state, err := ctrl.Select(ctx, sel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if state.Status != client.StatusDone {
		// the announcer already printed the message
		return cli.Exit("", 1)
	}

	out := c.String("out")
	if err := copyAudio(state.Audio, out); err != nil {
		return cli.Exit(fmt.Sprintf("save audio: %v", err), 1)
	}
	fmt.Fprintln(c.App.Writer, state.Description)
	logger.Info("audio saved", zap.String("path", out))
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = !verbose
	return cfg.Build()
}

func copyAudio(h *client.AudioHandle, dst string) error {
	if h == nil {
		return fmt.Errorf("no audio")
	}
	src, err := h.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
