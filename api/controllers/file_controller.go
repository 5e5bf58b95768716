package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

const maxFieldBytes = 256

// Ingester is the single-shot entry into the extraction pipeline.
type Ingester interface {
	Ingest(ctx context.Context, req types.IngestRequest, r io.Reader) (*types.IngestResult, error)
	Remove(ctx context.Context, owner, id string) error
}

type FileLister interface {
	ListFiles(ctx context.Context, owner string) ([]*types.StoredFile, error)
}

type FileController struct {
	ingester Ingester
	files    FileLister
}

func NewFileController(ingester Ingester, files FileLister) *FileController {
	return &FileController{
		ingester: ingester,
		files:    files,
	}
}

// HandleProcessFile ingests a whole file sent as the multipart part "file". The part is
// streamed into the pipeline, so an optional "type" field must precede it; ?type= works too.
func (ctrl *FileController) HandleProcessFile(c *gin.Context) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Expected multipart form data"))
		return
	}
	kind := c.Query("type")
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing file"))
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, tool.FastReturnError("Malformed multipart body"))
			return
		}

		switch part.FormName() {
		case "type":
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			part.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, tool.FastReturnError("Malformed type field"))
				return
			}
			kind = string(raw)
		case "file":
			ctrl.ingest(c, part.FileName(), part.Header.Get("Content-Type"), kind, part)
			part.Close()
			return
		default:
			part.Close()
		}
	}
}

func (ctrl *FileController) ingest(c *gin.Context, name, fileType, kind string, r io.Reader) {
	if name == "" {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing filename"))
		return
	}
	owner := tool.OwnerFromContext(c)
	tool.DefaultLogger.Infof("[Upload] process-file %s for %s", name, owner)

	res, err := ctrl.ingester.Ingest(c.Request.Context(), types.IngestRequest{
		Owner:    owner,
		FileName: name,
		FileType: fileType,
		Kind:     kind,
	}, r)
	if err != nil {
		respondError(c, "[Upload]", err)
		return
	}
	c.JSON(http.StatusOK, types.ProcessFileResponse{
		FileId:            res.FileID,
		Status:            res.Status,
		WordCount:         res.WordCount,
		TextExtracted:     res.TextExtracted,
		ConversationCount: res.ConversationCount,
	})
}

func (ctrl *FileController) HandleListFiles(c *gin.Context) {
	files, err := ctrl.files.ListFiles(c.Request.Context(), tool.OwnerFromContext(c))
	if err != nil {
		respondError(c, "[Query]", err)
		return
	}
	if files == nil {
		files = []*types.StoredFile{}
	}
	c.JSON(http.StatusOK, files)
}

func (ctrl *FileController) HandleDeleteFile(c *gin.Context) {
	id := c.Param("id")
	if !tool.IsValidUUID(id) {
		c.JSON(http.StatusNotFound, tool.FastReturnError(types.ErrFileNotFound.Error()))
		return
	}
	if err := ctrl.ingester.Remove(c.Request.Context(), tool.OwnerFromContext(c), id); err != nil {
		respondError(c, "[Delete]", err)
		return
	}
	c.JSON(http.StatusOK, tool.FastReturnSuccess())
}
