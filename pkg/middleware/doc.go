// Package middleware holds the HTTP middleware protecting external access:
// the API key gate and the in-memory and Redis-backed rate limiters.
package middleware
