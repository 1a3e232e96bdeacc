// Package fabricbridge exposes the fabric and yt command-line tools to
// local plugin clients over HTTP and MCP.
package fabricbridge

// Version is the fabricbridge release version.
const Version = "0.3.0"
