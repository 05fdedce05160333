// Package router provides API endpoint routing for the optional
// StatusServer.
package router

import "github.com/gin-gonic/gin"

// Group defines the interface for mountable API endpoint groups.
// Endpoints in a group share the same path prefix and common middlewares.
type Group interface {

	// Prefixes returns the common path prefixes for endpoints in the
	// group. A group can mount under multiple prefixes, e.g. both the
	// root path and a specific API version path.
	Prefixes() []string

	// Mount initializes group-level middlewares and mounts the endpoints.
	Mount(g *gin.RouterGroup)
}

// Register mounts every group's endpoints under each of its prefixes.
func Register(engine *gin.Engine, groups ...Group) {
	for _, grp := range groups {
		for _, prefix := range grp.Prefixes() {
			grp.Mount(engine.Group(prefix))
		}
	}
}
