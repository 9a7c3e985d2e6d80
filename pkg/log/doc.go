/*
Package log provides structured logging for Crucible using zerolog.

Init configures the process-wide Logger once, at startup, from a Config
(level, JSON vs console output, destination writer). Every other package
either uses the package-level helpers (Info, Warn, Error, ...) or derives
a child logger scoped to a job or component via WithComponent, WithJobID,
and WithOwner, so that every log line emitted while handling a submission
carries its job id without threading a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	jobLog := log.WithJobID(job.ID)
	jobLog.Info().Str("owner", job.Owner).Msg("job submitted")

JSON output is the production default; console output is meant for local
development. Fatal logs and exits the process — reserve it for startup
failures the engine cannot recover from (e.g. the Job Store failing to
open), never for per-job errors, which should finalize the job instead.
*/
package log
