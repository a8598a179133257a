// ABOUTME: Package dispatch schedules inbound events onto per-chat workers
// ABOUTME: Strict order within a chat, parallel across chats, bounded by a global slot pool

// Package dispatch turns the stream of inbound chat events into ordered,
// bounded processing turns.
//
// Each chat id gets a lazily created sequential worker that drains the chat's
// queue and retires when the queue is empty. Workers must hold one of
// MaxWorkers slots from a FIFO semaphore while processing, and give the slot
// back after Quantum events so a busy chat cannot starve the others.
//
// Submit never blocks: when the chat's queue or the global queue is full it
// returns ErrBackpressure and the caller decides what to do with the event.
package dispatch
