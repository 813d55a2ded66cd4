// Package engine wires all jobq subsystems together and provides the
// application-level API for registering handlers, enqueuing work and
// operating the queues.
//
// The root jobq package holds configuration, errors and the Dispatcher
// lifecycle, and is imported by every subsystem, so it cannot import them
// back. Engine sits above all subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	s, err := redis.Open(ctx, "redis://localhost:6379/0")
//	d, err := jobq.New(
//	    jobq.WithStore(s),
//	    jobq.WithConcurrency(20),
//	    jobq.WithQueues("default", "email"),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(myExtension),
//	    engine.WithQueueLimits(queue.Limits{Name: "email", RateLimit: 100}),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("send_email", sendEmail,
//	    job.WithMaxRetries(3),
//	    job.WithQueue("email"),
//	))
//
//	eng.RegisterHandler("resize_image", resize, 5, time.Minute)
//
//	engine.RegisterCron(ctx, eng, &cron.Definition[Report]{
//	    Name:     "daily-report",
//	    Schedule: "0 9 * * *",
//	    JobName:  "generate_report",
//	})
//
// # Enqueuing Jobs
//
//	jobID, err := engine.Enqueue(ctx, eng, "send_email", Email{To: "user@example.com"},
//	    job.WithPriority(job.PriorityHigh),
//	    job.WithDelay(5*time.Second),
//	    job.WithUniqueKey("welcome:42"),
//	)
//
// # Operating
//
// [Engine.Tracker] answers status queries. [Engine.Cancel],
// [Engine.RetryDeadLetter], [Engine.PurgeDeadLetters] and
// [Engine.PurgeQueue] change queue contents, and [Engine.Scheduler]
// lists, enables, disables and triggers schedules.
package engine
