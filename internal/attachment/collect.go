package attachment

import (
	"context"
	"log/slog"

	"github.com/memohai/modmail/internal/channel"
)

// StickerConverter renders stickers that cannot be embedded directly.
type StickerConverter interface {
	Convert(ctx context.Context, sticker channel.Sticker) (channel.File, error)
}

// Collector gathers the media items of a message.
type Collector struct {
	converter StickerConverter
	logger    *slog.Logger
}

// NewCollector creates a collector. A nil converter turns vector stickers into placeholders.
func NewCollector(log *slog.Logger, converter StickerConverter) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		converter: converter,
		logger:    log.With(slog.String("component", "attachment")),
	}
}

// Collect returns the message attachments, then bare image links from the text,
// then stickers. Converted stickers reference their upload as attachment://name.
func (c *Collector) Collect(ctx context.Context, msg channel.Message) []Item {
	items := make([]Item, 0, len(msg.Attachments)+len(msg.Stickers))
	for _, att := range msg.Attachments {
		items = append(items, Item{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	for _, url := range ExtractImageURLs(msg.Content) {
		items = append(items, Item{URL: url})
	}
	for _, sticker := range msg.Stickers {
		items = append(items, c.sticker(ctx, sticker))
	}
	return items
}

func (c *Collector) sticker(ctx context.Context, sticker channel.Sticker) Item {
	if sticker.Format.Raster() && sticker.URL != "" {
		return Item{URL: sticker.URL, Filename: sticker.Name, Sticker: true}
	}
	if c == nil || c.converter == nil {
		return Item{Filename: sticker.Name, Sticker: true}
	}
	file, err := c.converter.Convert(ctx, sticker)
	if err != nil {
		c.logger.Warn("sticker conversion failed",
			slog.String("sticker_id", sticker.ID),
			slog.Any("error", err),
		)
		return Item{Filename: sticker.Name, Sticker: true}
	}
	return Item{
		URL:         "attachment://" + file.Name,
		Filename:    sticker.Name,
		ContentType: file.ContentType,
		Size:        int64(len(file.Data)),
		Sticker:     true,
		File:        &file,
	}
}
