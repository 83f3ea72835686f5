package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"caff_back/audit"
)

func (m *Module) handleListLogs(c *gin.Context) {
	var entries []audit.LogEntry
	ok := m.run(c, audit.ActionGet, "log", false, func(ctx context.Context) error {
		var err error
		entries, err = m.audit.List(ctx, m.db)
		return err
	})
	if !ok {
		return
	}

	result := make([]logDTO, 0, len(entries))
	for i := range entries {
		result = append(result, toLogDTO(&entries[i]))
	}
	c.JSON(http.StatusOK, gin.H{"logs": result})
}
