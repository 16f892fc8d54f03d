//go:build !windows && !linux

package keyboard

import (
	"context"

	"github.com/rs/zerolog"
)

// Bonding is unavailable on this platform; every call fails.
type Bonding struct{}

func New(zerolog.Logger) (*Bonding, error) { return nil, ErrUnsupported }

func (*Bonding) Paste() error                           { return ErrUnsupported }
func (*Bonding) Copy() error                            { return ErrUnsupported }
func (*Bonding) Tap(Key) error                          { return ErrUnsupported }
func (*Bonding) TypeText(context.Context, string) error { return ErrUnsupported }
