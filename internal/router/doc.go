// Package router is the per-message routing engine: it filters inbound
// group messages, decides the translation direction from content, runs the
// provider chain, and delivers the reply.
package router
