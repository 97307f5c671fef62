// Package observability builds the process logger and the request logging
// middleware shared by the HTTP server and the Lambda dispatcher.
package observability
