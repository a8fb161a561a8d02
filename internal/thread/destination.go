package thread

import (
	"context"
	"fmt"

	"github.com/memohai/modmail/internal/channel"
)

// Surface identifies one side of a thread.
type Surface int

const (
	// SurfaceUser is the recipient's private conversation.
	SurfaceUser Surface = iota
	// SurfaceStaff is the thread channel.
	SurfaceStaff
)

func (s Surface) String() string {
	if s == SurfaceStaff {
		return "staff"
	}
	return "user"
}

// Destination is where a relayed message is delivered. The only
// implementations are the two surfaces of a thread.
type Destination interface {
	Surface() Surface
	ChannelID() string
	deliver(ctx context.Context, sender channel.MessageSender, msg channel.OutboundMessage) (channel.Message, error)
}

type userSurface struct {
	channelID string
}

func (d userSurface) Surface() Surface  { return SurfaceUser }
func (d userSurface) ChannelID() string { return d.channelID }

func (d userSurface) deliver(ctx context.Context, sender channel.MessageSender, msg channel.OutboundMessage) (channel.Message, error) {
	return sender.SendMessage(ctx, d.channelID, msg)
}

type staffSurface struct {
	channelID string
}

func (d staffSurface) Surface() Surface  { return SurfaceStaff }
func (d staffSurface) ChannelID() string { return d.channelID }

func (d staffSurface) deliver(ctx context.Context, sender channel.MessageSender, msg channel.OutboundMessage) (channel.Message, error) {
	return sender.SendMessage(ctx, d.channelID, msg)
}

// UserSurface opens the recipient's private conversation.
func (t *Thread) UserSurface(ctx context.Context) (Destination, error) {
	dm, err := t.manager.transport.DirectChannel(ctx, t.id)
	if err != nil {
		return nil, fmt.Errorf("open recipient conversation: %w", err)
	}
	return userSurface{channelID: dm.ID}, nil
}

// StaffSurface returns the thread channel.
func (t *Thread) StaffSurface() (Destination, error) {
	chID := t.ChannelID()
	if chID == "" {
		return nil, ErrThreadNotReady
	}
	return staffSurface{channelID: chID}, nil
}
