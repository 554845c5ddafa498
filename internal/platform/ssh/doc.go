// Package ssh provides the SSH transport for dispatching commands on
// remote lab hosts.
//
// The client parses its private key once at construction, dials lazily
// on first use and keeps the connection for the rest of the run. A
// failed session drops the cached connection so the next attempt
// redials, which lets stage-level retry ride out host reboots.
//
// Security: host key verification is disabled by default, which fits
// lab machines that are reimaged often. Provide a HostKeyCallback for
// rigs with persistent, known hosts.
package ssh
