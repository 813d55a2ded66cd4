// Package audithook is a jobq extension that turns lifecycle events into
// audit records.
//
// Every job and schedule hook produces an [AuditEvent] handed to a
// [Recorder]. Severity follows the outcome: info for normal operations,
// warning for retries and cancellations, critical for terminal failures.
//
// Two recorders ship with the package: [LogRecorder] writes events to a
// slog.Logger and [StreamRecorder] appends them to a capped Redis stream
// that operators can tail with XREAD.
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(audithook.New(
//	        audithook.StreamRecorder(client, "jobq:audit", 10000),
//	        audithook.WithActions(audithook.ActionJobFailed, audithook.ActionJobDeadLettered),
//	    )),
//	)
package audithook
