// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Every JSON body written through this package carries the
// {"success": bool, "message": string} envelope the dashboard expects;
// payload fields are merged next to those two keys.
package httputil
