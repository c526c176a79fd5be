// Package loop implements the cooperative event loop that both sides of the
// bridge run on.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every piece of mutable bridge state (pending changes, item caches, named
// contexts, resource lists) is owned by exactly one Loop and only touched
// from the goroutine executing Run (or RunPending in tests). Nothing is
// protected by locks; other goroutines hand work over with Post.
//
// Task Ordering:
//  1. Macrotasks: functions handed to Post and fired timers, FIFO.
//  2. Microtasks: functions handed to Microtask while a task runs. They run
//     after the current macrotask returns and before the next macrotask is
//     dequeued, in FIFO order, including microtasks queued by microtasks.
//  3. Timers: SetTimeout schedules a macrotask on the injected Clock;
//     ClearTimeout cancels it. Microtasks cannot be cancelled.
//
// Futures:
// A Future settles from any goroutine. Await and Then deliver the settled
// value back onto the loop as a macrotask, which is how asynchronous command
// handlers suspend and resume without sharing memory.
package loop
