package venue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/igolaizola/aurum/pkg/venue/venuetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	term := &venuetest.Terminal{}
	s := venue.NewSession(term, zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, venue.Disconnected, s.State())
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, venue.Connected, s.State())

	// Connecting twice doesn't reinitialize
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, 1, term.Inits)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, venue.Disconnected, s.State())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, 1, term.Shutdowns)
}

func TestSessionLoginFailure(t *testing.T) {
	term := &venuetest.Terminal{LoginErr: errors.New("invalid credentials")}
	s := venue.NewSession(term, zerolog.Nop())

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, venue.Disconnected, s.State())
	assert.Equal(t, 1, term.Shutdowns, "partially initialized terminal must be released")
}

func TestSessionInitFailure(t *testing.T) {
	term := &venuetest.Terminal{InitErr: errors.New("terminal not found")}
	s := venue.NewSession(term, zerolog.Nop())

	require.Error(t, s.Connect(context.Background()))
	assert.Equal(t, venue.Disconnected, s.State())
	assert.Equal(t, 0, term.Logins)
}

func TestSessionNotConnected(t *testing.T) {
	s := venue.NewSession(&venuetest.Terminal{}, zerolog.Nop())
	ctx := context.Background()

	_, err := s.ResolveSymbol(ctx, "XAUUSD")
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	_, err = s.Submit(ctx, &venue.OrderRequest{})
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	_, err = s.Account(ctx)
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	_, err = s.Orders(ctx)
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	_, err = s.Cancel(ctx, 1)
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	assert.Equal(t, venue.Disconnected, s.State())
}

func TestSessionConnectionLost(t *testing.T) {
	term := &venuetest.Terminal{SendErr: fmt.Errorf("write: %w", venue.ErrConnectionLost)}
	s := venue.NewSession(term, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	_, err := s.Submit(ctx, &venue.OrderRequest{Symbol: "XAUUSD"})
	assert.ErrorIs(t, err, venue.ErrConnectionLost)
	assert.Equal(t, venue.Disconnected, s.State())

	_, err = s.Submit(ctx, &venue.OrderRequest{Symbol: "XAUUSD"})
	assert.ErrorIs(t, err, venue.ErrNotConnected)
	assert.Equal(t, 1, term.Sent())
}

func TestRetcodeString(t *testing.T) {
	assert.Equal(t, "request completed (10009)", venue.RetcodeDone.String())
	assert.Equal(t, "retcode 42", venue.Retcode(42).String())
}
