// Package middleware holds the gin guards that reject out-of-contract
// requests before a handler runs, plus per-request telemetry.
package middleware

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/api/handlers"
)

// UploadField is the only multipart field an upload may carry.
const UploadField = "profilepic"

const uploadKey = "webapp.upload"

// multipartMemory bounds how much of a form is kept in memory; the rest
// spills to temp files.
const multipartMemory = 8 << 20

var authHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"X-Auth-Token",
	"X-Api-Key",
}

var (
	errNotMultipart    = errors.New("request is not multipart/form-data")
	errUnexpectedField = errors.New("unexpected file field")
	errTooManyFiles    = errors.New("more than one file in upload field")
	errNoFile          = errors.New("no file in upload field")
	errExtraFields     = errors.New("unexpected form fields")
)

// HasQuery reports whether the URL carries any query string.
func HasQuery(r *http.Request) bool {
	return r.URL.RawQuery != ""
}

// HasAuthHeader reports whether any credential-bearing header is set.
func HasAuthHeader(h http.Header) bool {
	for _, name := range authHeaders {
		if _, ok := h[http.CanonicalHeaderKey(name)]; ok {
			return true
		}
	}
	return false
}

// HasBody reports a positive or unparsable Content-Length, or any body bytes
// at all. A peeked byte is pushed back onto r.Body.
func HasBody(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	if raw := r.Header.Get("Content-Length"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n > 0 {
			return true
		}
	}
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}

	var peek [1]byte
	n, _ := io.ReadFull(r.Body, peek[:])
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(peek[:n]), r.Body), r.Body}
	return n > 0
}

func methodAllowed(method string, allowed []string) bool {
	for _, m := range allowed {
		if method == m {
			return true
		}
	}
	return false
}

// HealthzGuard admits only a bare GET: no query, no body, no credentials.
func HealthzGuard(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("validate")
	return func(c *gin.Context) {
		r := c.Request
		switch {
		case r.Method != http.MethodGet:
			logger.Warn("method not allowed on /healthz", zap.String("method", r.Method))
			handlers.MethodNotAllowed(c)
		case HasQuery(r), HasBody(r), HasAuthHeader(r.Header):
			logger.Warn("rejected /healthz request carrying payload, query or credentials")
			handlers.BadRequest(c)
		default:
			c.Next()
		}
	}
}

// FileItemGuard gates /v1/file/:id to GET and DELETE and rejects query
// strings and Authorization headers the same way the collection route does.
func FileItemGuard(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("validate")
	allowed := []string{http.MethodGet, http.MethodDelete}
	return func(c *gin.Context) {
		r := c.Request
		switch {
		case !methodAllowed(r.Method, allowed):
			logger.Warn("method not allowed on /v1/file/:id", zap.String("method", r.Method))
			handlers.MethodNotAllowed(c)
		case HasQuery(r):
			logger.Warn("unexpected query parameters", zap.String("query", r.URL.RawQuery))
			handlers.BadRequest(c)
		case r.Header.Get("Authorization") != "":
			logger.Warn("unexpected Authorization header")
			handlers.BadRequest(c)
		default:
			c.Next()
		}
	}
}

// UploadGuard admits a POST whose multipart body holds exactly one file under
// UploadField and nothing else. The accepted file is available to handlers
// through UploadedFile.
func UploadGuard(maxBytes int64, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("validate")
	return func(c *gin.Context) {
		r := c.Request
		switch {
		case r.Method != http.MethodPost:
			logger.Warn("method not allowed on /v1/file", zap.String("method", r.Method))
			handlers.MethodNotAllowed(c)
			return
		case HasQuery(r):
			logger.Warn("unexpected query parameters", zap.String("query", r.URL.RawQuery))
			handlers.BadRequest(c)
			return
		case r.Header.Get("Authorization") != "":
			logger.Warn("unexpected Authorization header")
			handlers.BadRequest(c)
			return
		}

		r.Body = http.MaxBytesReader(c.Writer, r.Body, maxBytes)
		fh, err := ParseUpload(r)
		if r.MultipartForm != nil {
			defer r.MultipartForm.RemoveAll()
		}
		if err != nil {
			logger.Warn("rejected upload", zap.Error(err))
			handlers.BadRequest(c)
			return
		}

		c.Set(uploadKey, fh)
		c.Next()
	}
}

// ParseUpload decodes the multipart body of r and returns its single file.
// Checks run in a fixed order: decode errors first, then a missing file,
// then extra value fields.
func ParseUpload(r *http.Request) (*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, errNotMultipart
		}
		return nil, err
	}

	form := r.MultipartForm
	for field := range form.File {
		if field != UploadField {
			return nil, errUnexpectedField
		}
	}
	files := form.File[UploadField]
	if len(files) > 1 {
		return nil, errTooManyFiles
	}
	if len(files) == 0 {
		return nil, errNoFile
	}
	if len(form.Value) > 0 {
		return nil, errExtraFields
	}
	return files[0], nil
}

// UploadedFile returns the file accepted by UploadGuard.
func UploadedFile(c *gin.Context) (*multipart.FileHeader, bool) {
	v, ok := c.Get(uploadKey)
	if !ok {
		return nil, false
	}
	fh, ok := v.(*multipart.FileHeader)
	return fh, ok
}
