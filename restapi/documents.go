// Package restapi surfaces a document store over HTTP: batches of commands are
// executed with POST /batch and documents are read with GET /docs.
package restapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/docstore"
	"github.com/sharedcode/docstore/encoding"
)

// BatchRequest is the body of POST /batch.
type BatchRequest struct {
	Commands []docstore.Command `json:"commands"`
}

// BatchResponse is the reply of POST /batch, results are aligned with the commands.
type BatchResponse struct {
	Results []docstore.Result `json:"results"`
}

// DocumentsResponse is the reply of GET /docs, nil entries stand for missing documents.
type DocumentsResponse struct {
	Documents []docstore.Document `json:"documents"`
}

// ErrorResponse carries a failure, Code is a docstore.ErrorCode name when known.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// BatchRecorder receives the outcome of executed batches, e.g. metrics.Collector.
type BatchRecorder interface {
	BatchExecuted(outcome string, d time.Duration)
}

// Server serves a docstore.Backend.
type Server struct {
	Backend  docstore.Backend
	Recorder BatchRecorder
}

// NewServer returns a server over backend.
func NewServer(backend docstore.Backend) *Server {
	return &Server{Backend: backend}
}

// RegisterRoutes adds the document routes to routes.
func (s *Server) RegisterRoutes(routes *Routes) error {
	if err := routes.RegisterMethod(POST, "/batch", s.PostBatch); err != nil {
		return err
	}
	if err := routes.RegisterMethod(GET, "/docs", s.GetDocuments); err != nil {
		return err
	}
	return routes.RegisterMethod(GET_ONE, "/document/*id", s.GetDocument)
}

// PostBatch godoc
// @Summary PostBatch executes a batch of commands atomically.
// @Schemes
// @Description PostBatch applies put, delete and patch commands in order and responds with the per command results.
// @Tags Documents
// @Accept json
// @Produce json
// @Param			batch	body		BatchRequest	true	"Commands to execute"
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Success 200 {object} BatchResponse
// @Router /batch [post]
// @Security Bearer
func (s *Server) PostBatch(c *gin.Context) {
	var req BatchRequest
	body, err := c.GetRawData()
	if err == nil {
		err = encoding.DocumentMarshaler.Unmarshal(body, &req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid batch: " + err.Error()})
		return
	}
	start := time.Now()
	results, err := s.Backend.Execute(c, req.Commands)
	if s.Recorder != nil {
		outcome := "ok"
		if err != nil {
			outcome = docstore.CodeOf(err).String()
		}
		s.Recorder.BatchExecuted(outcome, time.Since(start))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, BatchResponse{Results: results})
}

// GetDocuments godoc
// @Summary GetDocuments returns the documents with the given ids.
// @Schemes
// @Description GetDocuments responds with the documents aligned with the id query parameters, null for missing ones.
// @Tags Documents
// @Accept json
// @Produce json
// @Param			id	query		[]string		true	"Document ids"	collectionFormat(multi)
// @Failure 500 {object} ErrorResponse
// @Success 200 {object} DocumentsResponse
// @Router /docs [get]
// @Security Bearer
func (s *Server) GetDocuments(c *gin.Context) {
	ids := c.QueryArray("id")
	docs, err := s.Backend.Get(c, ids...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DocumentsResponse{Documents: docs})
}

// GetDocument godoc
// @Summary GetDocument returns the document with the given id.
// @Schemes
// @Description GetDocument responds with the matching document as JSON.
// @Tags Documents
// @Accept json
// @Produce json
// @Param			id	path		string		true	"Document id, e.g. items/1"
// @Failure 404 {object} ErrorResponse
// @Success 200 {object} map[string]any
// @Router /document/{id} [get]
// @Security Bearer
func (s *Server) GetDocument(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("id"), "/")
	docs, err := s.Backend.Get(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(docs) == 0 || docs[0] == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "document " + id + " not found"})
		return
	}
	c.JSON(http.StatusOK, docs[0])
}

func writeError(c *gin.Context, err error) {
	code := docstore.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case docstore.ConcurrencyViolation:
		status = http.StatusConflict
	case docstore.InvalidIdentifier:
		status = http.StatusBadRequest
	}
	r := ErrorResponse{Message: err.Error()}
	if code != docstore.Unknown {
		r.Code = code.String()
		// The client rebuilds the docstore error, send the bare message.
		var de docstore.Error
		if errors.As(err, &de) && de.Err != nil {
			r.Message = de.Err.Error()
		}
	}
	c.JSON(status, r)
}
