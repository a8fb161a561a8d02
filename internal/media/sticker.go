package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/memohai/modmail/internal/channel"
)

// Renderer turns a vector sticker document into a PNG image.
type Renderer interface {
	Render(ctx context.Context, document []byte) ([]byte, error)
}

// CommandRenderer renders by piping the document through an external command.
// The command reads the animation JSON on stdin and writes PNG bytes to stdout.
type CommandRenderer struct {
	command  string
	args     []string
	maxBytes int64
}

// NewCommandRenderer parses a command line such as "lottie2png --frame 0".
// It returns nil when the command line is empty.
func NewCommandRenderer(commandLine string, maxBytes int64) *CommandRenderer {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = MaxAssetBytes
	}
	return &CommandRenderer{command: parts[0], args: parts[1:], maxBytes: maxBytes}
}

func (r *CommandRenderer) Render(ctx context.Context, document []byte) ([]byte, error) {
	if r == nil {
		return nil, ErrRendererUnavailable
	}
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Stdin = bytes.NewReader(document)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", ErrRenderFailed, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	data, err := ReadAllWithLimit(&stdout, r.maxBytes)
	if err != nil {
		return nil, err
	}
	if !isPNG(data) {
		return nil, fmt.Errorf("%w: output is not a png image", ErrRenderFailed)
	}
	return data, nil
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngSignature)
}

// StickerConverter produces uploadable images for stickers that cannot be embedded directly.
type StickerConverter struct {
	fetcher  *Fetcher
	renderer Renderer
	logger   *slog.Logger
}

// NewStickerConverter creates a converter. A nil renderer makes every conversion fail.
func NewStickerConverter(log *slog.Logger, fetcher *Fetcher, renderer Renderer) *StickerConverter {
	if log == nil {
		log = slog.Default()
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, 0)
	}
	return &StickerConverter{
		fetcher:  fetcher,
		renderer: renderer,
		logger:   log.With(slog.String("component", "sticker_converter")),
	}
}

// Convert downloads a vector sticker and renders it to a PNG upload named after the sticker.
func (c *StickerConverter) Convert(ctx context.Context, sticker channel.Sticker) (channel.File, error) {
	if c.renderer == nil {
		return channel.File{}, ErrRendererUnavailable
	}
	doc, _, err := c.fetcher.Fetch(ctx, sticker.URL)
	if err != nil {
		return channel.File{}, err
	}
	png, err := c.renderer.Render(ctx, doc)
	if err != nil {
		c.logger.Warn("render sticker failed", slog.String("sticker_id", sticker.ID), slog.Any("error", err))
		return channel.File{}, err
	}
	return channel.File{
		Name:        StickerFilename(sticker),
		ContentType: "image/png",
		Data:        png,
	}, nil
}

// StickerFilename returns the upload name used for a converted sticker.
func StickerFilename(sticker channel.Sticker) string {
	var b strings.Builder
	for _, r := range strings.ToLower(sticker.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "sticker_" + sticker.ID
	}
	return name + ".png"
}
