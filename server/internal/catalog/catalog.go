package catalog

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
)

// Catalog keeps one Format row per (quality, extension, command). The
// format code of the first extraction that created a row is kept.
type Catalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) ResolveOrCreate(
	ctx context.Context,
	extension, quality string,
	cmd downloaders.Command,
	code string,
) (*domain.Format, error) {
	var format domain.Format

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q domain.Quality
		if err := tx.Where(domain.Quality{Name: quality}).FirstOrCreate(&q).Error; err != nil {
			return errors.Wrapf(err, "failed to resolve quality %q", quality)
		}

		var e domain.Extension
		if err := tx.Where(domain.Extension{Name: extension}).FirstOrCreate(&e).Error; err != nil {
			return errors.Wrapf(err, "failed to resolve extension %q", extension)
		}

		err := tx.
			Where(domain.Format{QualityID: q.ID, ExtensionID: e.ID, CommandTag: cmd}).
			Attrs(domain.Format{FormatCode: code}).
			FirstOrCreate(&format).Error
		if err != nil {
			return errors.Wrapf(err, "failed to resolve format %s/%s", quality, extension)
		}

		format.Quality = q
		format.Extension = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &format, nil
}

func (c *Catalog) Source(ctx context.Context, name string) (*domain.Source, error) {
	var s domain.Source
	err := c.db.WithContext(ctx).Where(domain.Source{Name: name}).FirstOrCreate(&s).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve source %q", name)
	}
	return &s, nil
}

// SeedCommands makes sure every registered backend has its reference row.
func (c *Catalog) SeedCommands(ctx context.Context, cmds []downloaders.Command) error {
	for _, cmd := range cmds {
		row := domain.Command{Tag: cmd}
		err := c.db.WithContext(ctx).
			Where(domain.Command{Tag: cmd}).
			Attrs(domain.Command{Label: cmd.Label()}).
			FirstOrCreate(&row).Error
		if err != nil {
			return errors.Wrapf(err, "failed to seed command %s", cmd)
		}
	}
	return nil
}

func (c *Catalog) Commands(ctx context.Context) ([]domain.Command, error) {
	var cmds []domain.Command
	if err := c.db.WithContext(ctx).Order("tag").Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}
