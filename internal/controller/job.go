package controller

import (
	"github.com/gin-gonic/gin"

	"github.com/mongoreindex/mongoreindex"
	"github.com/mongoreindex/mongoreindex/internal/middleware"
	"github.com/mongoreindex/mongoreindex/internal/router"
)

// JobStateFunc returns a snapshot of the currently running job's state, or
// nil if no job is running. The CLI binary supplies this as a closure
// returning the live JobState pointer the job driver mutates in place.
type JobStateFunc func() *mongoreindex.JobState

// JobController exposes read-only introspection of the in-flight job.
type JobController struct {
	State JobStateFunc
}

// NewJobController creates a JobController.
func NewJobController(f JobStateFunc) *JobController {
	return &JobController{State: f}
}

// Prefixes implements router.Group.
func (j *JobController) Prefixes() []string { return []string{"/v1"} }

// Mount implements router.Group.
func (j *JobController) Mount(g *gin.RouterGroup) {
	g.GET("/job", j.GetJob)
	g.GET("/collections/:name", j.GetCollection)
}

// GetJob returns the complete JobState for the in-flight run.
func (j *JobController) GetJob(c *gin.Context) {
	js := j.State()
	if js == nil {
		middleware.Respond(c, nil, mongoreindex.ErrNotFound)
		return
	}
	middleware.Respond(c, js, nil)
}

// GetCollection returns the CollectionRecord for a single collection.
func (j *JobController) GetCollection(c *gin.Context) {
	js := j.State()
	if js == nil {
		middleware.Respond(c, nil, mongoreindex.ErrNotFound)
		return
	}
	cr := js.CollectionByName(c.Param("name"))
	if cr == nil {
		middleware.Respond(c, nil, mongoreindex.ErrNotFound)
		return
	}
	middleware.Respond(c, cr, nil)
}

var _ router.Group = (*JobController)(nil)
