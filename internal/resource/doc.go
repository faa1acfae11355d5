// Package resource decides when indexing work may run.
//
// A Monitor samples heap and CPU usage. The Manager turns each sample into a
// pressure level, maps pressure onto a throttle factor, and admits operations
// from a bounded PriorityQueue while the running count stays under the
// effective concurrency:
//
//	effective = max(1, floor(MaxConcurrentOperations * throttle))
//
// # Admission
//
//	mgr := resource.NewManager(resource.DefaultConfig(), resource.NewMonitor(logger, nil), logger)
//	mgr.OnAdmit(func(op *resource.Operation) { go run(op) })
//	go mgr.Run(ctx)
//
//	op := resource.NewOperation("/docs", resource.KindFullScan, types.PriorityBatch)
//	switch res := mgr.RequestSlot(op); {
//	case res.Admitted:
//	    go run(op)
//	case res.Queued:
//	    // dispatched through OnAdmit later
//	case res.Rejected:
//	    // res.Reason == resource.ReasonQueueFull
//	}
//
// Every admitted operation must be released exactly once with ReleaseSlot.
// Higher priority work moves ahead in the queue but never interrupts running
// work.
//
// # Crawl pause
//
// PauseBatch holds batch operations back for a short window so interactive
// searches are not competing with a background crawl. Running batch workers
// call Wait between files to honor the same window.
package resource
