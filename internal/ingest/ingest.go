// Package ingest moves a multipart upload from the request body into the
// object store without ever buffering the whole payload, then records the file
// in the catalog.
package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dharsanguruparan/linehaul/internal/model"
	"github.com/dharsanguruparan/linehaul/internal/s3storage"
)

// ObjectStore is the slice of the object-store adapter the pipeline needs.
type ObjectStore interface {
	KeyGen(originalName string) string
	PutStream(ctx context.Context, key string, r io.Reader, contentType string) (*s3storage.UploadResult, error)
}

// Catalog records completed uploads.
type Catalog interface {
	Create(ctx context.Context, key, name string, size int64, contentType string) (*model.File, error)
}

// Kind classifies upload failures so the HTTP layer can map them to status
// codes without inspecting messages.
type Kind int

const (
	KindBadRequest Kind = iota
	KindTooLarge
	KindInternal
)

// Error is a typed upload failure. Code becomes the response's "error" field,
// Message its "message" field.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Pipeline streams one multipart file part into the object store.
type Pipeline struct {
	store        ObjectStore
	catalog      Catalog
	maxFileSize  int64
	allowedTypes []string
}

// New constructs a Pipeline.
func New(store ObjectStore, catalog Catalog, maxFileSize int64, allowedTypes []string) *Pipeline {
	return &Pipeline{
		store:        store,
		catalog:      catalog,
		maxFileSize:  maxFileSize,
		allowedTypes: allowedTypes,
	}
}

// Upload consumes the request body and returns the created file record. The
// bytes flow part-by-part from the multipart reader into the store's multipart
// put; the only buffers in between are the store's bounded upload parts.
func (p *Pipeline) Upload(ctx context.Context, r *http.Request) (*model.File, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, &Error{
			Kind:    KindBadRequest,
			Code:    "Invalid content type",
			Message: "Content-Type must be multipart/form-data",
		}
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &Error{
			Kind:    KindBadRequest,
			Code:    "Invalid content type",
			Message: "malformed multipart body",
			cause:   err,
		}
	}
	part, err := nextFilePart(mr)
	if err != nil {
		return nil, &Error{
			Kind:    KindBadRequest,
			Code:    "No file uploaded",
			Message: "request must include a \"file\" part",
			cause:   err,
		}
	}
	defer part.Close()

	contentType := partContentType(part)
	if !p.typeAllowed(contentType) {
		// Drain the remainder so the client is not left stalled mid-send.
		_, _ = io.Copy(io.Discard, part)
		return nil, &Error{
			Kind:    KindBadRequest,
			Code:    "File type not allowed",
			Message: fmt.Sprintf("file type %s is not allowed", contentType),
		}
	}

	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	key := p.store.KeyGen(filename)

	counter := &countingReader{r: part, max: p.maxFileSize}
	result, err := p.store.PutStream(ctx, key, counter, contentType)
	if err != nil {
		if counter.exceeded {
			return nil, &Error{
				Kind:    KindTooLarge,
				Code:    "Upload failed",
				Message: fmt.Sprintf("File size exceeds maximum allowed size of %d bytes", p.maxFileSize),
			}
		}
		return nil, &Error{
			Kind:    KindInternal,
			Code:    "Upload failed",
			Message: "failed to store file",
			cause:   err,
		}
	}

	file, err := p.catalog.Create(ctx, result.Key, filename, counter.n, contentType)
	if err != nil {
		return nil, &Error{
			Kind:    KindInternal,
			Code:    "Upload failed",
			Message: "failed to record file metadata",
			cause:   err,
		}
	}
	return file, nil
}

func (p *Pipeline) typeAllowed(contentType string) bool {
	media := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		media = parsed
	}
	for _, allowed := range p.allowedTypes {
		if strings.EqualFold(media, allowed) {
			return true
		}
	}
	return false
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func partContentType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// errFileTooLarge aborts the in-flight put when the per-file byte limit is
// hit; the store's error path aborts its multipart upload.
var errFileTooLarge = fmt.Errorf("file exceeds size limit")

// countingReader counts bytes as they stream through and fails once the limit
// is crossed, so the final observed count doubles as the record's size.
type countingReader struct {
	r        io.Reader
	n        int64
	max      int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.max > 0 && c.n > c.max {
		c.exceeded = true
		return n, errFileTooLarge
	}
	return n, err
}
