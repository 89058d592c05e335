package spotify

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
)

// Device is a Spotify Connect playback device.
type Device struct {
	ID     string
	Name   string
	Type   string
	Active bool
	Volume int
}

// PlayerState is the remote player's current state.
type PlayerState struct {
	DeviceID string
	URI      string // Currently loaded track URI ("" if nothing is loaded)
	Position time.Duration
	Playing  bool
}

// Player commands are never retried here; a blind retry can double-start playback.

// PlayerDevices lists the account's available devices.
func (c *Client) PlayerDevices(ctx context.Context) ([]Device, error) {
	devices, err := c.client.PlayerDevices(ctx)
	if err != nil {
		return nil, classify(err, "failed to list devices")
	}

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		result = append(result, Device{
			ID:     string(d.ID),
			Name:   d.Name,
			Type:   d.Type,
			Active: d.Active,
			Volume: int(d.Volume),
		})
	}
	return result, nil
}

// TransferPlayback moves playback to deviceID.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	if err := c.client.TransferPlayback(ctx, spotify.ID(deviceID), play); err != nil {
		return errors.Wrap(err, "failed to transfer playback")
	}
	return nil
}

// PlayURI starts uri from the beginning on deviceID.
func (c *Client) PlayURI(ctx context.Context, deviceID, uri string) error {
	id := spotify.ID(deviceID)
	err := c.client.PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID: &id,
		URIs:     []spotify.URI{spotify.URI(uri)},
	})
	if err != nil {
		return errors.Wrap(err, "failed to play track")
	}
	return nil
}

// Pause pauses playback on deviceID.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	id := spotify.ID(deviceID)
	if err := c.client.PauseOpt(ctx, &spotify.PlayOptions{DeviceID: &id}); err != nil {
		return errors.Wrap(err, "failed to pause")
	}
	return nil
}

// Resume resumes playback on deviceID.
func (c *Client) Resume(ctx context.Context, deviceID string) error {
	id := spotify.ID(deviceID)
	if err := c.client.PlayOpt(ctx, &spotify.PlayOptions{DeviceID: &id}); err != nil {
		return errors.Wrap(err, "failed to resume")
	}
	return nil
}

// SetVolume sets the volume of deviceID to level percent.
func (c *Client) SetVolume(ctx context.Context, deviceID string, level int) error {
	id := spotify.ID(deviceID)
	if err := c.client.VolumeOpt(ctx, level, &spotify.PlayOptions{DeviceID: &id}); err != nil {
		return errors.Wrap(err, "failed to set volume")
	}
	return nil
}

// PlayerState returns the current player state.
// An idle account yields a zero state, not an error.
func (c *Client) PlayerState(ctx context.Context) (*PlayerState, error) {
	state, err := c.client.PlayerState(ctx, spotify.Market(c.market))
	if err != nil {
		return nil, classify(err, "failed to get player state")
	}
	if state == nil {
		return &PlayerState{}, nil
	}

	result := &PlayerState{
		DeviceID: string(state.Device.ID),
		Position: time.Duration(state.Progress) * time.Millisecond,
		Playing:  state.Playing,
	}
	if state.Item != nil {
		result.URI = string(state.Item.URI)
	}
	return result, nil
}
