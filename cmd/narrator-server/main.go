// Command narrator-server serves POST /api/describe-image: an uploaded image
// goes through admission, a vision model and a speech model, and comes back
// as MP3 with the description in a header.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"narrator-server/internal/bootstrap"
)

// Set via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "narrator-server",
		Usage:   "Image description and narration server",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"NARRATOR_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "no-dotenv",
				Usage: "do not load variables from .env",
			},
		},
		Action: func(c *cli.Context) error {
			fmt.Printf("[%s] [INFO] [Bootstrap] starting narrator-server %s\n",
				time.Now().Format("2006-01-02 15:04:05.000"), version)
			return bootstrap.Run(c.Context, bootstrap.Options{
				ConfigPath: c.String("config"),
				SkipDotEnv: c.Bool("no-dotenv"),
			})
		},
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "narrator-server failed: %v\n", err)
		os.Exit(1)
	}
}
