package service

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/wavedeck/internal/apperrors"
	"github.com/audiolibrelab/wavedeck/internal/blob"
)

// BannerKind selects which alert the page shows.
type BannerKind string

const (
	BannerNone        BannerKind = ""
	BannerUnsupported BannerKind = "unsupported"
	BannerPermission  BannerKind = "permission"
	BannerError       BannerKind = "error"
)

// Banner is a transient, dismissable alert.
type Banner struct {
	Kind    BannerKind `json:"kind"`
	Message string     `json:"message"`
}

// bannerFor maps a failure to the single banner it should raise. Guard
// rejections such as starting twice raise none.
func bannerFor(err error) (Banner, bool) {
	switch apperrors.KindOf(err) {
	case apperrors.Busy:
		return Banner{}, false
	case apperrors.UnsupportedPlatform:
		return Banner{
			Kind:    BannerUnsupported,
			Message: fmt.Sprintf("Audio recording is not supported on this system: %v", cause(err)),
		}, true
	case apperrors.AccessDenied:
		return Banner{
			Kind:    BannerPermission,
			Message: "Microphone access was denied. Allow access and press 'a' to retry.",
		}, true
	case apperrors.EncodeStartFailure:
		return Banner{Kind: BannerError, Message: fmt.Sprintf("Could not start recording: %v", cause(err))}, true
	case apperrors.ProcessingFailure:
		return Banner{Kind: BannerError, Message: fmt.Sprintf("Recording could not be processed: %v", cause(err))}, true
	case apperrors.PlaybackFailure:
		return Banner{Kind: BannerError, Message: fmt.Sprintf("Playback failed: %v", cause(err))}, true
	case apperrors.NotFound:
		return Banner{Kind: BannerError, Message: "Recording not found"}, true
	}
	if errors.Is(err, blob.ErrRevoked) {
		return Banner{Kind: BannerError, Message: "Recording data is no longer available"}, true
	}
	return Banner{Kind: BannerError, Message: err.Error()}, true
}

func cause(err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err
	}
	return err
}
