/*
Package log provides structured logging for the rollout controller using zerolog.

Init configures the global Logger once at startup; packages derive child loggers
with WithComponent and WithLineage so that every line carries the component and,
where relevant, the lineage it concerns:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithLineage("web")
	logger.Info().Str("state", "VERIFYING").Int("revision", 4).Msg("rollback accepted")

Console output is used unless JSONOutput is set. Logs go to stderr so that
command output on stdout stays machine-readable.
*/
package log
