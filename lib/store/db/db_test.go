package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUnknown(t *testing.T) {
	dh, err := New("sqlite", "file.db")
	assert.Error(t, err)
	assert.Nil(t, dh)
	assert.NoError(t, Close(nil))
}
