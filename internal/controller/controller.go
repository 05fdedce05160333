// Package controller implements handlers for the optional StatusServer's
// job-status introspection endpoints.
package controller
