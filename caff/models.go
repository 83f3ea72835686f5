package caff

import (
	"time"

	"gorm.io/datatypes"
)

// CAFF credits carry no minute field.
const unknownMinute = -1

// Caff is one ingested collection.
type Caff struct {
	ID           uint64         `gorm:"primaryKey" json:"id"`
	Year         int64          `gorm:"not null" json:"year"`
	Month        int64          `gorm:"not null" json:"month"`
	Day          int64          `gorm:"not null" json:"day"`
	Hour         int64          `gorm:"not null" json:"hour"`
	Minute       int64          `gorm:"not null" json:"minute"`
	Creator      string         `gorm:"type:text;not null" json:"creator"`
	CreatorLen   int            `gorm:"not null" json:"creator_len"`
	RawFile      string         `gorm:"size:1024;not null" json:"raw_file"`
	OriginalName string         `gorm:"size:255" json:"original_name"`
	SourceDigest string         `gorm:"size:64;index" json:"source_digest"`
	Metadata     datatypes.JSON `json:"metadata"`
	Ciffs        []Ciff         `gorm:"foreignKey:CollectionID" json:"ciffs"`
	Comments     []Comment      `gorm:"foreignKey:CollectionID" json:"comments"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (Caff) TableName() string {
	return "caffs"
}

// Ciff is one animation entry of a collection.
type Ciff struct {
	ID           uint64  `gorm:"primaryKey" json:"id"`
	CollectionID uint64  `gorm:"index;not null" json:"collection_id"`
	Position     int     `gorm:"not null" json:"position"`
	Width        int64   `gorm:"not null" json:"width"`
	Height       int64   `gorm:"not null" json:"height"`
	Duration     int64   `gorm:"not null" json:"duration"`
	Caption      string  `gorm:"type:text" json:"caption"`
	Tags         string  `gorm:"type:text" json:"tags"`
	PreviewFile  *string `gorm:"size:255" json:"preview_file"`
}

func (Ciff) TableName() string {
	return "ciffs"
}

// Comment is a user annotation on a collection.
type Comment struct {
	ID           uint64    `gorm:"primaryKey" json:"id"`
	CollectionID uint64    `gorm:"index;not null" json:"collection_id"`
	AuthorID     string    `gorm:"size:128;not null" json:"author_id"`
	Text         string    `gorm:"type:text;not null" json:"text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Comment) TableName() string {
	return "comments"
}

// Models lists the tables owned by this package in migration order.
func Models() []any {
	return []any{&Caff{}, &Ciff{}, &Comment{}}
}
