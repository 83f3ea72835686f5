package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"caff_back/authorization"
	"caff_back/failure"
	"caff_back/ingest"
)

const (
	messageUploaded         = "Uploaded successfully"
	messageIllegalExtension = "Illegal file extension"

	// multipartOverhead covers boundaries and part headers around the file.
	multipartOverhead int64 = 64 << 10
)

// bodyLimit adds the multipart framing allowance to a file size limit. A
// non-positive size leaves the body unbounded.
func bodyLimit(fileBytes int64) int64 {
	if fileBytes <= 0 {
		return 0
	}
	return fileBytes + multipartOverhead
}

// limitBody caps the request body before gin parses the multipart form, so an
// oversized upload never reaches the temp directory.
func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			authorization.Abort(c, failure.Newf(failure.InvalidInput, "request body exceeds %d bytes", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// formFileError maps a multipart parse failure onto the error taxonomy.
func formFileError(err error, field string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return failure.Newf(failure.InvalidInput, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return failure.Newf(failure.InvalidInput, "multipart field %q is required", field)
}

func (m *Module) handleUploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		authorization.Abort(c, formFileError(err, "file"))
		return
	}
	if !ingest.AllowedExtension(header.Filename) {
		c.JSON(http.StatusOK, uploadResponse{Message: messageIllegalExtension})
		return
	}

	body, err := header.Open()
	if err != nil {
		authorization.Abort(c, failure.New(failure.IOFailure, fmt.Errorf("open upload: %w", err)))
		return
	}
	defer body.Close()

	identity, _ := authorization.CurrentIdentity(c)
	out, err := m.ingest.Ingest(c.Request.Context(), ingest.Upload{Filename: header.Filename, Body: body}, identity)
	if err != nil {
		if failure.Is(err, failure.UnsupportedExtension) {
			c.JSON(http.StatusOK, uploadResponse{Message: messageIllegalExtension})
			return
		}
		authorization.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Message:    messageUploaded,
		ID:         out.CollectionID,
		PreviewURL: m.previewURL(out.CollectionID),
	})
}

func (m *Module) handleUploadArchive(c *gin.Context) {
	header, err := c.FormFile("archive")
	if err != nil {
		authorization.Abort(c, formFileError(err, "archive"))
		return
	}

	body, err := header.Open()
	if err != nil {
		authorization.Abort(c, failure.New(failure.IOFailure, fmt.Errorf("open archive: %w", err)))
		return
	}
	defer body.Close()

	identity, _ := authorization.CurrentIdentity(c)
	report, err := m.ingest.ImportArchive(c.Request.Context(), header.Filename, body, identity)
	if err != nil {
		authorization.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
