package controllers

import (
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/api/models"
	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

type UploadController struct {
	manager *models.UploadManager
}

func NewUploadController(manager *models.UploadManager) *UploadController {
	return &UploadController{
		manager: manager,
	}
}

// HandleInit opens a chunked upload session.
func (ctrl *UploadController) HandleInit(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] Failed to read init request body: %v", err)
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var request types.InitUploadRequest
	if err := sonic.Unmarshal(body, &request); err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}

	session, err := ctrl.manager.Init(c.Request.Context(), tool.OwnerFromContext(c), request)
	if err != nil {
		respondError(c, "[Upload]", err)
		return
	}
	c.JSON(http.StatusOK, types.InitUploadResponse{UploadId: session.UploadId})
}

// HandleChunk stores one multipart chunk: fields uploadId, chunkIndex, totalChunks and
// the file part "chunk".
func (ctrl *UploadController) HandleChunk(c *gin.Context) {
	uploadId := c.PostForm("uploadId")
	if uploadId == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing uploadId"))
		return
	}
	index, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid chunkIndex"))
		return
	}
	totalChunks := 0
	if raw := c.PostForm("totalChunks"); raw != "" {
		if totalChunks, err = strconv.Atoi(raw); err != nil || totalChunks < 1 {
			c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid totalChunks"))
			return
		}
	}
	header, err := c.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing chunk data"))
		return
	}
	file, err := header.Open()
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] Failed to open chunk %d of %s: %v", index, uploadId, err)
		c.JSON(http.StatusInternalServerError, tool.FastReturnError("Failed to read chunk"))
		return
	}
	defer file.Close()

	session, err := ctrl.manager.Chunk(c.Request.Context(), uploadId, index, totalChunks, file)
	if err != nil {
		respondError(c, "[Upload]", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uploadId":       session.UploadId,
		"chunkIndex":     index,
		"receivedChunks": session.ReceivedCount(),
		"totalChunks":    session.TotalChunks,
	})
}

// HandleComplete reassembles the session and runs extraction.
func (ctrl *UploadController) HandleComplete(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Failed to read request body"))
		return
	}
	var request types.CompleteUploadRequest
	if err := sonic.Unmarshal(body, &request); err != nil || request.UploadId == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Invalid request body"))
		return
	}

	resp, err := ctrl.manager.Complete(c.Request.Context(), request.UploadId)
	if err != nil {
		respondError(c, "[Complete]", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (ctrl *UploadController) HandleStatus(c *gin.Context) {
	status, err := ctrl.manager.Status(c.Request.Context(), c.Param("uploadId"))
	if err != nil {
		respondError(c, "[Upload]", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (ctrl *UploadController) HandleAbort(c *gin.Context) {
	if err := ctrl.manager.Abort(c.Request.Context(), c.Param("uploadId")); err != nil {
		respondError(c, "[Upload]", err)
		return
	}
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
