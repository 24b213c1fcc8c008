/*
Package log provides structured logging via zerolog: a global logger,
component-scoped child loggers, and JSON or console output.

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry a "component" field through every subsequent
call, the way every daemon in this repository (allocatord, cabinetd,
seerd, samplerd, coordinatord) tags its own logs:

	writeLog := log.WithComponent("write")
	writeLog.Info().Str("primary", primary.ID).Msg("applied statement")
	writeLog.Error().Err(err).Msg("primary apply failed")
*/
package log
