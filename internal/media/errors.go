package media

import "errors"

var (
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrFetchFailed indicates a remote asset could not be downloaded.
	ErrFetchFailed = errors.New("media fetch failed")
	// ErrRendererUnavailable indicates no sticker renderer command is configured.
	ErrRendererUnavailable = errors.New("sticker renderer unavailable")
	// ErrRenderFailed indicates the renderer ran but produced no usable image.
	ErrRenderFailed = errors.New("sticker render failed")
)
