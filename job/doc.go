// Package job defines the job envelope, its lifecycle state machine,
// priority tiers, typed definitions, the handler registry, and the store
// contract the queue core runs against.
//
// # Envelope
//
// A [Job] is the durable record of one unit of work. It carries an opaque
// payload (JSON for typed definitions) and progresses through:
//
//	pending → active → completed
//	pending → active → pending (retry) → active → ...
//	pending → active → dead_lettered
//	pending → active → cancelled
//	pending → cancelled
//
// Attempts counts claims. It never exceeds MaxRetries while the job is
// pending or active; the failure that reaches the limit dead-letters it.
//
// # Priority
//
// Four tiers, drained Critical first: [PriorityCritical], [PriorityHigh],
// [PriorityNormal], [PriorityLow]. Within a tier jobs are served in due
// order.
//
// # Defining a Job
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) error {
//	        return mailer.Send(ctx, input.To, input.Subject, input.Body)
//	    },
//	    job.WithMaxRetries(5),
//	    job.WithTimeout(30*time.Second),
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values together
// with their default [Options]. Register definitions at startup via
// [RegisterDefinition]; the engine package wraps this as engine.Register.
package job
