// Package scanning provides the TCP connect scan engine for portsweep.
//
// A scan is described by a Job (host, inclusive port range, worker count,
// per-attempt timeout and optional rate limit) and executed by a
// Coordinator. The coordinator resolves the host once, starts a fixed-size
// Pool of workers, feeds every Target of the range into an unbounded Queue
// and closes it. Workers drain the queue, probe each target with a Prober
// and record the classified Outcome in an Aggregator. When every worker has
// exited the coordinator builds the Report from the aggregator's sorted
// snapshot.
//
// # Outcomes
//
// Each connection attempt is classified as one of:
//   - open: the handshake completed; the connection is closed at once
//   - closed: the peer refused the connection (RST)
//   - timeout: nothing answered before the per-attempt timeout
//   - error(reason): anything else, e.g. resource_exhausted when the
//     process runs out of file descriptors
//
// Per-port failures never abort a job. Only validation and resolution
// failures do, and they surface before any probe is sent.
//
// # Usage
//
//	job, err := scanning.NewJob("127.0.0.1", 1, 1024, 256, time.Second)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	report, err := scanning.NewCoordinator(job).Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(report.OpenPorts)
//
// # Concurrency
//
// The number of workers is min(Job.Concurrency, number of ports), which
// also bounds the number of sockets open at once. Cancelling the context
// passed to Run stops enqueuing and stops workers from taking new targets;
// probes already in flight finish within their own timeout, and Run returns
// a partial report with a CANCELED error.
package scanning
