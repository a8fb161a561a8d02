package discord

import (
	"context"

	"github.com/memohai/modmail/internal/channel"
)

type reactionWaiter struct {
	userID string
	emojis map[string]struct{}
	ch     chan channel.Reaction
}

func reactionKey(channelID, messageID string) string {
	return channelID + ":" + messageID
}

// AwaitReaction blocks until userID reacts to the message with one of emojis.
func (a *Adapter) AwaitReaction(ctx context.Context, channelID, messageID, userID string, emojis []string) (channel.Reaction, error) {
	w := &reactionWaiter{
		userID: userID,
		emojis: make(map[string]struct{}, len(emojis)),
		ch:     make(chan channel.Reaction, 1),
	}
	for _, e := range emojis {
		w.emojis[e] = struct{}{}
	}
	key := reactionKey(channelID, messageID)
	a.addWaiter(key, w)
	defer a.removeWaiter(key, w)

	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return channel.Reaction{}, ctx.Err()
	}
}

func (a *Adapter) addWaiter(key string, w *reactionWaiter) {
	a.mu.Lock()
	a.waiters[key] = append(a.waiters[key], w)
	a.mu.Unlock()
}

func (a *Adapter) removeWaiter(key string, w *reactionWaiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.waiters[key]
	for i, item := range list {
		if item == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(a.waiters, key)
		return
	}
	a.waiters[key] = list
}

// dispatchReaction hands the reaction to matching waiters. It reports whether
// any waiter accepted it.
func (a *Adapter) dispatchReaction(r channel.Reaction) bool {
	a.mu.RLock()
	list := append([]*reactionWaiter(nil), a.waiters[reactionKey(r.ChannelID, r.MessageID)]...)
	a.mu.RUnlock()

	delivered := false
	for _, w := range list {
		if w.userID != "" && w.userID != r.UserID {
			continue
		}
		if _, ok := w.emojis[r.Emoji]; !ok && len(w.emojis) > 0 {
			continue
		}
		select {
		case w.ch <- r:
			delivered = true
		default:
		}
	}
	return delivered
}
