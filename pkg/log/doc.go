// Package log is dobbyd's thin structured-logging wrapper over zerolog.
//
// Call Init once at startup with the level and output format parsed from
// the daemon's settings file or CLI flags. Everywhere else, reach for the
// package-level Logger or one of the With* helpers to get a child logger
// carrying the fields relevant to that subsystem:
//
//	logger := log.WithComponent("netengine")
//	logger.Info().Str("container_id", id).Msg("bridge attached")
//
// WithContainerID and WithHook exist because the two most common
// cross-cutting fields across dobbyd's logs are which container an entry
// concerns and, during plugin dispatch, which OCI hook point is running.
//
// SetLevel backs the IPC SetLogLevel method so log verbosity can be
// changed at runtime without restarting the daemon.
package log
