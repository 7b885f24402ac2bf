package main

import (
	"errors"
	"os"
	"runtime/debug"

	"github.com/jrsteele09/go-storemap-client/cmd/storemap/cmd"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()
	return cmd.Execute()
}
