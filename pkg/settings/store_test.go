package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "settings.db"), logx.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDefaults(t *testing.T) {
	store := openTestStore(t)

	assert.False(t, store.Contains(KeyDestLat))
	assert.Equal(t, int64(7), store.GetInt(KeyDestLat, 7))
	assert.Equal(t, 1.5, store.GetFloat(KeyDestRadius, 1.5))
	assert.True(t, store.GetBool(KeyVibrate, true))
	assert.Equal(t, "x", store.GetString(KeyTone, "x"))
	assert.False(t, store.UseGPS())
	assert.False(t, store.HasDestination())

	dest, ok := store.Destination()
	assert.False(t, ok)
	assert.False(t, dest.Valid())
}

func TestSaveDestination(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveDestination(pkg.Destination{Latitude: 40.5, Longitude: -75.25, Radius: 100}, true))

	assert.Equal(t, int64(40500000), store.GetInt(KeyDestLat, 0))
	assert.Equal(t, int64(-75250000), store.GetInt(KeyDestLng, 0))
	assert.True(t, store.UseGPS())

	dest, ok := store.Destination()
	require.True(t, ok)
	assert.Equal(t, 40.5, dest.Latitude)
	assert.Equal(t, -75.25, dest.Longitude)
	assert.Equal(t, float32(100), dest.Radius)
}

func TestTypedSet(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Set(KeyVibrate, true))
	require.NoError(t, store.Set(KeyTone, "pushover:siren"))
	assert.True(t, store.GetBool(KeyVibrate, false))
	assert.Equal(t, "pushover:siren", store.GetString(KeyTone, ""))

	assert.ErrorIs(t, store.Set(KeyVibrate, "yes"), ErrWrongType)
	assert.ErrorIs(t, store.Set("volume", 3), ErrUnknownKey)
}

func TestSetString(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetString(KeyDestRadius, "250"))
	require.NoError(t, store.SetString(KeySMSEnabled, "true"))
	require.NoError(t, store.SetString(KeyDestLat, "40500000"))
	require.NoError(t, store.SetString(KeySMSMessage, "Almost there"))

	assert.Equal(t, 250.0, store.GetFloat(KeyDestRadius, 0))
	assert.True(t, store.GetBool(KeySMSEnabled, false))
	assert.Equal(t, int64(40500000), store.GetInt(KeyDestLat, 0))
	assert.True(t, store.HasDestination())

	assert.ErrorIs(t, store.SetString(KeyVibrate, "maybe"), ErrWrongType)
	assert.ErrorIs(t, store.SetString("nope", "1"), ErrUnknownKey)
}

func TestWrongStoredTypeFallsBackToDefault(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Set(KeyTone, "chime"))
	assert.False(t, store.GetBool(KeyTone, false))
}

func TestAlertSettings(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetMany(map[string]interface{}{
		KeyVibrate:    true,
		KeyInsistent:  true,
		KeySMSEnabled: true,
		KeySMSContact: "+15551234567",
		KeySMSMessage: "Almost there",
	}))

	alert := store.AlertSettings()
	assert.Equal(t, "", alert.SoundURI)
	assert.True(t, alert.Vibrate)
	assert.True(t, alert.Insistent)
	assert.True(t, alert.SMSReady())

	require.NoError(t, store.Delete(KeySMSContact))
	assert.False(t, store.AlertSettings().SMSReady())
}

func TestDumpAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	store, err := Open(path, logx.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, store.Set(KeyImperial, true))
	require.NoError(t, store.Close())

	store, err = Open(path, logx.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.Imperial())
	dump, err := store.Dump()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{KeyImperial: true}, dump)
	assert.Contains(t, Keys(), KeySMSMessage)
}
