package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/superclaude-org/scinstall/cmd/scinstall/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Used until the command has loaded its configuration.
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	code := commands.ExitCode(err)
	if code != 0 && !commands.IsReported(err) {
		log.Error().Err(err).Msg("Command execution failed")
	}
	stop()
	os.Exit(code)
}

// setupLogging configures zerolog for structured logging. Only the
// default logger's level is set; a global level would also cap the
// installer's own logger.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
