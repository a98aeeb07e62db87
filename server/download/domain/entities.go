package domain

import (
	"time"

	"github.com/downloadui/download-ui/server/internal/downloaders"
)

// Command is the reference row of a backend.
type Command struct {
	Tag   downloaders.Command `gorm:"primaryKey;size:8" json:"tag"`
	Label string              `json:"label"`
}

type Source struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
}

type Quality struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

type Extension struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

type Format struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	QualityID   uint                `gorm:"uniqueIndex:idx_format_key;not null" json:"-"`
	Quality     Quality             `json:"quality"`
	ExtensionID uint                `gorm:"uniqueIndex:idx_format_key;not null" json:"-"`
	Extension   Extension           `json:"extension"`
	CommandTag  downloaders.Command `gorm:"uniqueIndex:idx_format_key;size:8;not null" json:"command"`
	FormatCode  string              `gorm:"not null" json:"format_code"`
}

func (f Format) String() string {
	return f.Quality.Name + " " + f.Extension.Name
}

type Download struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	URL         string  `gorm:"size:300;not null" json:"url"`
	SlugID      string  `gorm:"index" json:"slug_id"`
	ChannelName string  `json:"channel_name"`
	Title       string  `json:"title"`
	SourceID    uint    `json:"-"`
	Source      *Source `json:"source,omitempty"`

	CommandTag   downloaders.Command `gorm:"size:8;not null" json:"command"`
	ChoicesFor   []Format            `gorm:"many2many:download_choices" json:"-"`
	FileFormatID *uint               `json:"-"`
	FileFormat   *Format             `json:"file_format,omitempty"`

	Status       Status `gorm:"index;size:16;not null" json:"status"`
	ActiveTaskID string `json:"active_task_id,omitempty"`
	FilePath     string `gorm:"size:300" json:"file_path"`
	Size         string `json:"size"`

	Version   uint      `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearFile sets the sentinels used when there is no file.
func (d *Download) ClearFile() {
	d.FilePath = NotAvailable
	d.Size = NotAvailable
}

// MoveTo changes the status if the transition is allowed.
func (d *Download) MoveTo(next Status) error {
	if !d.Status.CanTransition(next) {
		return &TransitionError{From: d.Status, To: next}
	}
	d.Status = next
	return nil
}

// Models lists every table the repository migrates.
func Models() []any {
	return []any{
		&Command{},
		&Source{},
		&Quality{},
		&Extension{},
		&Format{},
		&Download{},
	}
}
