package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	CodeLength = 6
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Existence is the collision check consulted for each candidate code.
type Existence interface {
	RoomExists(ctx context.Context, code string) (bool, error)
}

// Generator draws room codes until one is unused. There is no attempt
// limit; only ctx stops the loop.
type Generator struct {
	rooms  Existence
	random io.Reader
}

func NewGenerator(rooms Existence) *Generator {
	return &Generator{rooms: rooms, random: rand.Reader}
}

// WithSource swaps the random source; tests use it to force collisions.
func (g *Generator) WithSource(r io.Reader) *Generator {
	g.random = r
	return g
}

func (g *Generator) Generate(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.draw()
		if err != nil {
			return "", err
		}
		taken, err := g.rooms.RoomExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("room exists check: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
}

// draw builds one candidate. Bytes >= 252 are rejected so every symbol of
// the 36-letter alphabet is equally likely.
func (g *Generator) draw() (string, error) {
	const limit = 256 - 256%len(alphabet)
	out := make([]byte, 0, CodeLength)
	var buf [CodeLength * 2]byte
	for len(out) < CodeLength {
		if _, err := io.ReadFull(g.random, buf[:]); err != nil {
			return "", fmt.Errorf("random source: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidCode reports whether s has the shape of a room code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
