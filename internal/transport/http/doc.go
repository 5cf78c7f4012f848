// Package http provides the HTTP transport decorators shared by the
// playlist and search clients: User-Agent header injection and
// request/response dump logging at debug level.
package http
