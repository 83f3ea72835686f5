package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/failure"
	"caff_back/ingest"
)

func (m *Module) handleListCollections(c *gin.Context) {
	offset, err := queryInt(c, "offset")
	if err != nil {
		authorization.Abort(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		authorization.Abort(c, err)
		return
	}

	var rows []caff.Caff
	ok := m.run(c, audit.ActionGet, "caff", false, func(ctx context.Context) error {
		rows, err = m.store.List(ctx, caff.Page{Offset: offset, Limit: limit})
		return err
	})
	if !ok {
		return
	}

	result := make([]caffDTO, 0, len(rows))
	for i := range rows {
		result = append(result, m.toCaffDTO(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"caffs": result})
}

func (m *Module) handleGetCollection(c *gin.Context) {
	id, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return
	}

	var row *caff.Caff
	ok := m.run(c, audit.ActionGet, fmt.Sprintf("caff %d", id), false, func(ctx context.Context) error {
		row, err = m.store.Get(ctx, id)
		return err
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.toCaffDTO(row))
}

func (m *Module) handleDeleteCollection(c *gin.Context) {
	id, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return
	}

	ok := m.run(c, audit.ActionDelete, fmt.Sprintf("caff %d", id), true, func(ctx context.Context) error {
		_, err := m.store.Delete(ctx, id)
		return err
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// handleDownload streams the retained source under its original name. The
// source digest doubles as a strong ETag.
func (m *Module) handleDownload(c *gin.Context) {
	id, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return
	}

	var row *caff.Caff
	ok := m.run(c, audit.ActionGet, fmt.Sprintf("caff %d", id), false, func(ctx context.Context) error {
		row, err = m.store.Get(ctx, id)
		return err
	})
	if !ok {
		return
	}

	if row.SourceDigest != "" {
		etag := `"` + row.SourceDigest + `"`
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	info, err := os.Stat(row.RawFile)
	if err != nil || !info.Mode().IsRegular() {
		m.logger.WithField("caff_id", id).WithField("raw_file", row.RawFile).Error("retained source missing")
		authorization.Abort(c, failure.WithID(failure.IOFailure, id, fmt.Errorf("source of caff %d is unavailable", id)))
		return
	}

	name := filepath.Base(row.OriginalName)
	if name == "." || name == "/" || name == "" {
		name = fmt.Sprintf("%d%s", id, ingest.Extension)
	}
	c.FileAttachment(row.RawFile, name)
}
