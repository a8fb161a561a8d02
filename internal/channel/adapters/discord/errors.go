package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/memohai/modmail/internal/channel"
)

const (
	categoryFullText = "Maximum number of channels in category reached"
	nameRejectedText = "Contains words not allowed"
)

// classifyError maps a REST failure onto the transport error taxonomy. The
// original error stays in the chain so its text can be surfaced to staff.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if kind := restErrorKind(restErr); kind != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func restErrorKind(restErr *discordgo.RESTError) error {
	body := string(restErr.ResponseBody)
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownUser:
			return channel.ErrNotFound
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return channel.ErrCannotMessageUser
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return channel.ErrForbidden
		case discordgo.ErrCodeInvalidFormBody:
			switch {
			case strings.Contains(body, categoryFullText):
				return channel.ErrCategoryFull
			case strings.Contains(body, nameRejectedText):
				return channel.ErrNameRejected
			}
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return channel.ErrNotFound
		case http.StatusForbidden:
			return channel.ErrForbidden
		}
	}
	return nil
}
