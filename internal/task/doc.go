// Package task implements cooperative units of work.
//
// A Task is stepped by repeated calls to Cycle, each returning a
// model.Signal. A Group aggregates tasks and other groups without a cycle
// of its own. Both satisfy Schedulable, the only type the scheduler and the
// completion helpers (Join, JoinAll, Await, PromiseAll) accept.
//
// Nothing in this package is safe for concurrent mutation. A single
// goroutine is expected to construct the graph and drive every Cycle; only
// the observable state and the completion events may be read or subscribed
// to from other goroutines.
package task
