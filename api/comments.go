package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/failure"
)

func (m *Module) handleListComments(c *gin.Context) {
	caffID, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return
	}

	var comments []caff.Comment
	ok := m.run(c, audit.ActionGet, fmt.Sprintf("caff %d", caffID), false, func(ctx context.Context) error {
		comments, err = m.store.ListComments(ctx, caffID)
		return err
	})
	if !ok {
		return
	}

	result := make([]commentDTO, 0, len(comments))
	for i := range comments {
		result = append(result, toCommentDTO(&comments[i]))
	}
	c.JSON(http.StatusOK, gin.H{"comments": result})
}

func (m *Module) handleCreateComment(c *gin.Context) {
	caffID, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return
	}
	var form commentForm
	if err := c.ShouldBind(&form); err != nil {
		authorization.Abort(c, failure.Newf(failure.InvalidInput, "invalid comment payload"))
		return
	}

	identity, _ := authorization.CurrentIdentity(c)
	var created *caff.Comment
	ok := m.run(c, audit.ActionCreate, fmt.Sprintf("comment on caff %d", caffID), true, func(ctx context.Context) error {
		created, err = m.store.CreateComment(ctx, caffID, identity.SubjectID, form.Text)
		return err
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, toCommentDTO(created))
}

func (m *Module) handleUpdateComment(c *gin.Context) {
	caffID, commentID, ok := commentParams(c)
	if !ok {
		return
	}
	var form commentForm
	if err := c.ShouldBind(&form); err != nil {
		authorization.Abort(c, failure.Newf(failure.InvalidInput, "invalid comment payload"))
		return
	}

	var updated *caff.Comment
	ok = m.run(c, audit.ActionEdit, fmt.Sprintf("comment %d", commentID), true, func(ctx context.Context) error {
		var err error
		updated, err = m.store.UpdateComment(ctx, caffID, commentID, form.Text)
		return err
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toCommentDTO(updated))
}

func (m *Module) handleDeleteComment(c *gin.Context) {
	caffID, commentID, ok := commentParams(c)
	if !ok {
		return
	}

	ok = m.run(c, audit.ActionDelete, fmt.Sprintf("comment %d", commentID), true, func(ctx context.Context) error {
		return m.store.DeleteComment(ctx, caffID, commentID)
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": commentID})
}

func commentParams(c *gin.Context) (uint64, uint64, bool) {
	caffID, err := idParam(c, "caff_id")
	if err != nil {
		authorization.Abort(c, err)
		return 0, 0, false
	}
	commentID, err := idParam(c, "comment_id")
	if err != nil {
		authorization.Abort(c, err)
		return 0, 0, false
	}
	return caffID, commentID, true
}
