package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/domain/models"
)

func msg(role models.SourceRole, text string) models.ChatMessage {
	return models.ChatMessage{
		StreamID: "st-1",
		Author:   "someone",
		Role:     role,
		Text:     text,
		SentAt:   time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	}
}

func TestParseOwnerEntryFullDetail(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "buying 2 contracts ES at 5880.25"))
	require.True(t, ok)
	assert.Equal(t, models.SignalEntry, sig.Kind)
	assert.Equal(t, "ES", sig.Symbol)
	assert.Equal(t, models.DirectionLong, sig.Direction)
	require.NotNil(t, sig.Price)
	assert.InDelta(t, 5880.25, *sig.Price, 1e-9)
	require.NotNil(t, sig.Size)
	assert.InDelta(t, 2, *sig.Size, 1e-9)
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
}

func TestParseShortEntry(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "shorting NQ here at 21450"))
	require.True(t, ok)
	assert.Equal(t, models.SignalEntry, sig.Kind)
	assert.Equal(t, "NQ", sig.Symbol)
	assert.Equal(t, models.DirectionShort, sig.Direction)
}

func TestParseExitOfShort(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "sold my ES short, flat now"))
	require.True(t, ok)
	assert.Equal(t, models.SignalExit, sig.Kind)
	assert.Equal(t, models.DirectionShort, sig.Direction)
}

func TestParseStopAdjustment(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "moving my stop to 5875"))
	require.True(t, ok)
	assert.Equal(t, models.SignalStop, sig.Kind)
	require.NotNil(t, sig.Price)
	assert.InDelta(t, 5875, *sig.Price, 1e-9)
}

func TestParsePartialUtteranceStillEmitted(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "going long here"))
	require.True(t, ok, "missing symbol and price must not drop the signal")
	assert.Equal(t, models.SignalEntry, sig.Kind)
	assert.Empty(t, sig.Symbol)
	assert.Nil(t, sig.Price)
	assert.Less(t, sig.Confidence, 0.9, "partial parse is discounted")
	assert.Greater(t, sig.Confidence, 0.0)
}

func TestRoleTrustOrdering(t *testing.T) {
	d := NewVerbalDetector(nil)
	text := "buying ES at 5880"

	owner, ok := d.Parse(msg(models.RoleOwner, text))
	require.True(t, ok)
	mod, ok := d.Parse(msg(models.RoleModerator, text))
	require.True(t, ok)
	viewer, ok := d.Parse(msg(models.RoleViewer, text))
	require.True(t, ok)

	assert.Greater(t, owner.Confidence, mod.Confidence)
	assert.Greater(t, mod.Confidence, viewer.Confidence)
}

func TestParseRejectsChatter(t *testing.T) {
	d := NewVerbalDetector(nil)

	for _, text := range []string{
		"good morning everyone",
		"what timeframe is that chart?",
		"lol",
		"",
	} {
		_, ok := d.Parse(msg(models.RoleViewer, text))
		assert.False(t, ok, "%q is not a signal", text)
	}
}

func TestParseAlertKind(t *testing.T) {
	d := NewVerbalDetector(nil)

	sig, ok := d.Parse(msg(models.RoleOwner, "watching GC for a breakout"))
	require.True(t, ok)
	assert.Equal(t, models.SignalAlert, sig.Kind)
	assert.Equal(t, "GC", sig.Symbol)
	assert.Less(t, sig.Confidence, 0.9)
}
