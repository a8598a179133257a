// Package session owns per-chat conversation state.
//
// The Store hands out exactly one *Session per chat id, even under concurrent
// first contact. Callers borrow a session by key and must hold its lock
// (Session.Lock) for the duration of a processing turn; the store never
// holds a global lock, so turns for different chats never contend.
//
// Idle sessions are removed by EvictIdle. A session whose lock is held is
// mid-turn and is never evicted.
package session
