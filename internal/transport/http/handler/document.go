package handler

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docresearch/internal/app"
	"docresearch/internal/model"
	"docresearch/internal/transport/http/response"
)

type DocumentService interface {
	Upload(ctx context.Context, in app.UploadInput) (*model.Document, error)
	UploadMany(ctx context.Context, inputs []app.UploadInput) ([]app.UploadResult, error)
	List(ctx context.Context, status string) ([]model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	GetMany(ctx context.Context, ids []string) ([]model.Document, error)
	Content(ctx context.Context, id string, page int) (string, error)
	Chunks(ctx context.Context, id string) ([]model.Chunk, error)
	Reingest(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) error
}

type DocumentHandler struct {
	documents DocumentService
	maxBytes  int64
}

func NewDocumentHandler(documents DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxBytes: maxBytes}
}

const maxBatchFiles = 20

// Upload accepts a multipart form with "file", an optional "content_type"
// overriding the detected type and the metadata fields document_name,
// document_type, author and date.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if h.tooLarge(c, file) {
		return
	}
	in, err := readUpload(file, c.PostForm("content_type"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	in.Metadata = metadataFromForm(c)

	doc, err := h.documents.Upload(c.Request.Context(), in)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, doc)
}

// UploadBatch accepts several "files" parts sharing one set of metadata
// fields. Files are stored independently; the result lists each outcome.
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing files")
		return
	}
	if len(files) > maxBatchFiles {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			"too many files (max "+strconv.Itoa(maxBatchFiles)+")")
		return
	}

	meta := metadataFromForm(c)
	inputs := make([]app.UploadInput, 0, len(files))
	for _, file := range files {
		if h.tooLarge(c, file) {
			return
		}
		in, err := readUpload(file, "")
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
			return
		}
		in.Metadata = meta
		inputs = append(inputs, in)
	}

	results, err := h.documents.UploadMany(c.Request.Context(), inputs)
	if err != nil {
		writeError(c, err, "upload failed")
		return
	}
	response.OK(c, results)
}

func (h *DocumentHandler) tooLarge(c *gin.Context, file *multipart.FileHeader) bool {
	if h.maxBytes <= 0 || file.Size <= h.maxBytes {
		return false
	}
	response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
		file.Filename+" too large (max "+strconv.FormatInt(h.maxBytes>>20, 10)+"MB)")
	return true
}

func readUpload(file *multipart.FileHeader, declared string) (app.UploadInput, error) {
	f, err := file.Open()
	if err != nil {
		return app.UploadInput{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return app.UploadInput{}, err
	}
	if declared == "" {
		declared = file.Header.Get("Content-Type")
	}
	return app.UploadInput{Filename: file.Filename, ContentType: declared, Data: data}, nil
}

func metadataFromForm(c *gin.Context) app.DocumentMetadata {
	return app.DocumentMetadata{
		Name:         c.PostForm("document_name"),
		DocumentType: c.PostForm("document_type"),
		Author:       c.PostForm("author"),
		Date:         c.PostForm("date"),
	}
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

// ByIDs returns the documents named by document_ids, which may repeat or hold
// a comma-separated list. Unknown ids are skipped.
func (h *DocumentHandler) ByIDs(c *gin.Context) {
	var ids []string
	for _, v := range c.QueryArray("document_ids") {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	docs, err := h.documents.GetMany(c.Request.Context(), ids)
	if err != nil {
		writeError(c, err, "get documents failed")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Content(c *gin.Context) {
	page := 0
	if s := c.Query("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid page")
			return
		}
		page = n
	}
	id := c.Param("id")
	text, err := h.documents.Content(c.Request.Context(), id, page)
	if err != nil {
		writeError(c, err, "get document content failed")
		return
	}
	response.OK(c, gin.H{"document_id": id, "page": page, "content": text})
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	chunks, err := h.documents.Chunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "list chunks failed")
		return
	}
	if chunks == nil {
		chunks = []model.Chunk{}
	}
	response.OK(c, chunks)
}

func (h *DocumentHandler) Reingest(c *gin.Context) {
	doc, err := h.documents.Reingest(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "reingest failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}
