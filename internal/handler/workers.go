package handler

import (
	"net/http"

	"qrtrace/internal/apierror"
	"qrtrace/internal/worker"

	"github.com/gin-gonic/gin"
)

const maxDrainRuns = 50

type WorkersHandler struct{ runner *worker.Runner }

func NewWorkersHandler(runner *worker.Runner) *WorkersHandler { return &WorkersHandler{runner: runner} }

// Run godoc
// @Summary Runs one pass of a scheduled task
// @Description With ?drain=N the task repeats until idle, at most N times.
// @Tags workers
// @Produce json
// @Param task path string true "reverse_jobs | intake | ledger_replay"
// @Param X-Scheduler-Token header string true "Scheduler secret"
// @Success 200 {object} worker.Report
// @Failure 404 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/workers/{task}/run [post]
func (h *WorkersHandler) Run(c *gin.Context) {
	task := c.Param("task")
	if n := queryInt(c, "drain", 0); n > 0 {
		if n > maxDrainRuns {
			n = maxDrainRuns
		}
		reports, err := h.runner.Drain(c.Request.Context(), task, n)
		if err != nil && len(reports) == 0 {
			respondError(c, err)
			return
		}
		body := gin.H{"task": task, "runs": reports}
		if err != nil {
			_, env := apierror.StatusOf(err)
			body["error"] = env.Detail
		}
		c.JSON(http.StatusOK, body)
		return
	}

	rep, err := h.runner.Run(c.Request.Context(), task)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// List returns the registered task names.
func (h *WorkersHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.runner.Names()})
}
