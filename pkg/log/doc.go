// Package log provides structured logging for pgbranch using zerolog.
//
// Init must be called once at process start (before the cobra root command
// runs) with the level and format selected by the --log-level/--log-json
// flags. Every other package pulls component-scoped child loggers from
// WithComponent/WithProject/WithBranch/WithSnapshot rather than touching
// the global Logger directly, so log lines are always attributable to the
// project/branch they concern.
package log
