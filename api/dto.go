package api

import (
	"strconv"
	"time"

	"caff_back/audit"
	"caff_back/caff"
	"caff_back/preview"
)

type ciffDTO struct {
	ID       uint64   `json:"id"`
	Position int      `json:"position"`
	Width    int64    `json:"width"`
	Height   int64    `json:"height"`
	Duration int64    `json:"duration"`
	Caption  string   `json:"caption"`
	Tags     []string `json:"tags"`
}

type commentDTO struct {
	ID        uint64    `json:"id"`
	CaffID    uint64    `json:"caff_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type caffDTO struct {
	ID           uint64       `json:"id"`
	Year         int64        `json:"year"`
	Month        int64        `json:"month"`
	Day          int64        `json:"day"`
	Hour         int64        `json:"hour"`
	Minute       int64        `json:"minute"`
	Creator      string       `json:"creator"`
	CreatorLen   int          `json:"creator_len"`
	OriginalName string       `json:"original_name"`
	PreviewURL   string       `json:"preview_url"`
	DownloadURL  string       `json:"download_url"`
	CreatedAt    time.Time    `json:"created_at"`
	Ciffs        []ciffDTO    `json:"ciffs"`
	Comments     []commentDTO `json:"comments"`
}

type logDTO struct {
	ID        uint64    `json:"id"`
	Level     string    `json:"level"`
	ActorID   *string   `json:"actor_id"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type uploadResponse struct {
	Message    string `json:"message"`
	ID         uint64 `json:"id,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

type commentForm struct {
	Text string `json:"text" form:"text"`
}

func (m *Module) previewURL(id uint64) string {
	if m.previews != nil {
		if url := m.previews.PublicURL(id); url != "" {
			return url
		}
	}
	return "/preview/" + strconv.FormatUint(id, 10) + preview.Extension
}

func (m *Module) toCaffDTO(row *caff.Caff) caffDTO {
	dto := caffDTO{
		ID:           row.ID,
		Year:         row.Year,
		Month:        row.Month,
		Day:          row.Day,
		Hour:         row.Hour,
		Minute:       row.Minute,
		Creator:      row.Creator,
		CreatorLen:   row.CreatorLen,
		OriginalName: row.OriginalName,
		PreviewURL:   m.previewURL(row.ID),
		DownloadURL:  "/download_caff/" + strconv.FormatUint(row.ID, 10),
		CreatedAt:    row.CreatedAt,
		Ciffs:        make([]ciffDTO, 0, len(row.Ciffs)),
		Comments:     make([]commentDTO, 0, len(row.Comments)),
	}
	for _, entry := range row.Ciffs {
		dto.Ciffs = append(dto.Ciffs, ciffDTO{
			ID:       entry.ID,
			Position: entry.Position,
			Width:    entry.Width,
			Height:   entry.Height,
			Duration: entry.Duration,
			Caption:  entry.Caption,
			Tags:     caff.SplitTags(entry.Tags),
		})
	}
	for i := range row.Comments {
		dto.Comments = append(dto.Comments, toCommentDTO(&row.Comments[i]))
	}
	return dto
}

func toCommentDTO(c *caff.Comment) commentDTO {
	return commentDTO{
		ID:        c.ID,
		CaffID:    c.CollectionID,
		AuthorID:  c.AuthorID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toLogDTO(e *audit.LogEntry) logDTO {
	return logDTO{
		ID:        e.ID,
		Level:     string(e.Level),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		Entity:    e.Entity,
		Message:   e.Message,
		CreatedAt: e.CreatedAt,
	}
}
