package main

// version is stamped into the daemon's PID file and reported by
// `daemon status`, the same PID content scheme as the teacher's
// internal/version.Version + server.Run.
const version = "0.1.0"
