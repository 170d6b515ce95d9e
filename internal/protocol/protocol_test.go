package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharProps(t *testing.T) {
	assert.True(t, PropWrite.CanWrite())
	assert.True(t, PropWriteWithoutResponse.CanWrite())
	assert.False(t, PropRead.CanWrite())
	assert.True(t, PropNotify.CanNotify())
	assert.True(t, PropIndicate.CanNotify())
	assert.False(t, (PropRead | PropWrite).CanNotify())
}

func TestSelectCharacteristicsFirstInOrder(t *testing.T) {
	chars := []Characteristic{
		{ID: "a", ServiceUUID: "s1", Props: PropRead},
		{ID: "b", ServiceUUID: "s1", Props: PropIndicate},
		{ID: "c", ServiceUUID: "s1", Props: PropWrite | PropNotify},
		{ID: "d", ServiceUUID: "s1", Props: PropWriteWithoutResponse},
	}

	write, notify := selectCharacteristics(chars, "")
	require.NotNil(t, write)
	require.NotNil(t, notify)
	assert.Equal(t, "c", write.ID)
	assert.Equal(t, "b", notify.ID)
}

func TestSelectCharacteristicsServiceFilter(t *testing.T) {
	chars := []Characteristic{
		{ID: "a", ServiceUUID: "other", Props: PropWrite | PropNotify},
		{ID: "b", ServiceUUID: "NUS", Props: PropWrite},
	}

	write, notify := selectCharacteristics(chars, "nus")
	require.NotNil(t, write)
	assert.Equal(t, "b", write.ID)
	assert.Nil(t, notify)
}

func TestSelectCharacteristicsEmpty(t *testing.T) {
	write, notify := selectCharacteristics(nil, "")
	assert.Nil(t, write)
	assert.Nil(t, notify)
}
