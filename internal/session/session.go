// Package session mirrors lobby presence into Redis so that other processes
// (dashboards, a second instance's dump endpoint) can see who is online.
// The in-memory lobby stays authoritative; Redis only ever trails it.
package session
