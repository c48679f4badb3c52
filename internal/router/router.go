package router

import (
	"github.com/gin-gonic/gin"

	"agentdeck/internal/handler"
)

func SetupRouter(r *gin.Engine, hdl *handler.Handler) {
	api := r.Group("/api")
	{
		orgs := api.Group("/orgs/:orgId")
		{
			orgs.POST("/runs", hdl.CreateRun)
			orgs.GET("/runs", hdl.ListRuns)
			orgs.GET("/runs/:runId", hdl.GetRun)
			orgs.POST("/runs/:runId/resume", hdl.ResumeRun)
			orgs.POST("/runs/:runId/stop", hdl.StopRun)
			orgs.DELETE("/runs/:runId", hdl.DeleteRun)
			orgs.POST("/sync", hdl.SyncOrganization)
			orgs.GET("/sync", hdl.GetSyncState)
		}

		api.GET("/search/github", hdl.SearchGithub)
		api.GET("/search/npm", hdl.SearchNpm)

		api.GET("/events", hdl.StreamEvents)
	}
}
