// Package moex is a client for the Moscow Exchange ISS JSON API and the
// backend operations built on it: share prices from the TQBR board and the
// list of actively traded shares.
package moex
