package jobctl

import "github.com/edirooss/procd/internal/wire"

// requestKind enumerates the single-writer worker's request vocabulary,
// spec §4.7. init is issued once, by the launcher; terminate comes from the
// launcher and, on QUIT, from the command acceptor via the shim;
// job-started/job-stopped arrive from the status inbox; start/stop/status/
// list-jobs/logs arrive from the command acceptor via the shim;
// timer-expire arrives from the ticker.
type requestKind int

const (
	reqInit requestKind = iota
	reqTerminate
	reqJobStarted
	reqJobStopped
	reqStartJob
	reqStopJob
	reqGetStatus
	reqListJobs
	reqTimerExpire
	reqGetLogs
)

// request is one (kind, job, reply) triple enqueued on the service's single
// channel. reply is nil for requests whose future resolves with no value
// (init, terminate, job-started, job-stopped, job-timer-expire), per the
// §4.7 response policy. n is only meaningful for reqGetLogs.
type request struct {
	kind requestKind
	job  string
	n    int
	// reply receives exactly one response, or is nil for fire-and-forget
	// requests that always resolve empty.
	reply chan response
}

// response carries a dispatch reply back to the shim. msg is nil for a
// request kind that produces no response body.
type response struct {
	msg wire.Message
}
