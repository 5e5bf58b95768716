package controllers

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

type Answerer interface {
	Query(ctx context.Context, owner, question string) (*types.QueryAnswer, error)
}

type QueryController struct {
	engine Answerer
}

func NewQueryController(engine Answerer) *QueryController {
	return &QueryController{engine: engine}
}

func (ctrl *QueryController) HandleQuery(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var request types.QueryRequest
	if err := sonic.Unmarshal(body, &request); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}

	owner := tool.OwnerFromContext(c)
	answer, err := ctrl.engine.Query(c.Request.Context(), owner, request.Question)
	if err != nil {
		respondError(c, "[Query]", err)
		return
	}
	tool.DefaultLogger.Infof("[Query] %s asked %q: %d sources of %d files", owner, answer.Question, len(answer.Sources), answer.TotalFiles)
	c.JSON(http.StatusOK, answer)
}
