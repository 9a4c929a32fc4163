// Package store defines the durable descriptor store behind the bot registry.
package store

import (
	"context"

	"github.com/loykin/botvisor/internal/bot"
)

// Store persists the ordered bot descriptor list.
//
// Load must return an empty list (not an error) when nothing was ever saved.
// Save replaces the whole list atomically: a concurrent Load observes either
// the previous or the new list, never a mix.
type Store interface {
	Load(ctx context.Context) ([]bot.Bot, error)
	Save(ctx context.Context, bots []bot.Bot) error
	Close() error
}
