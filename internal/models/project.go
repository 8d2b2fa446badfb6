package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project owns a dataset, a template set and the content generated from them
type Project struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	OrganizationID uint   `gorm:"not null;default:0;index" json:"organization_id"`
	Name           string `gorm:"not null;size:255" json:"name"`

	ContentTemplate         string  `gorm:"type:text;not null" json:"content_template"`
	TitleTemplate           *string `gorm:"type:text" json:"title_template"`
	MetaDescriptionTemplate *string `gorm:"type:text" json:"meta_description_template"`
	TagsTemplate            *string `gorm:"type:text" json:"tags_template"`
	ThumbnailTemplate       *string `gorm:"type:text" json:"thumbnail_template"`
	ThumbnailURL            string  `gorm:"size:1024" json:"thumbnail_url"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// Column is one header of the uploaded dataset
type Column struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProjectID uint   `gorm:"not null;index" json:"project_id"`
	Name      string `gorm:"not null;size:255" json:"name"`
	Order     int    `gorm:"column:position;not null" json:"order"`
}

// Row is one immutable dataset record keyed by column name
type Row struct {
	ID        uint                                  `gorm:"primaryKey" json:"id"`
	ProjectID uint                                  `gorm:"not null;index:idx_rows_project_position" json:"project_id"`
	Data      datatypes.JSONType[map[string]string] `json:"data"`
	Order     int                                   `gorm:"column:position;not null;index:idx_rows_project_position" json:"order"`
}

func (Column) TableName() string {
	return "dataset_columns"
}

func (Row) TableName() string {
	return "dataset_rows"
}

// Values returns the row data, never nil
func (r Row) Values() map[string]string {
	data := r.Data.Data()
	if data == nil {
		return map[string]string{}
	}
	return data
}
