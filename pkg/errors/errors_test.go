package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkSurvivesWrapping(t *testing.T) {
	sentinel := New("jobs failed")
	err := Wrap(Mark(New("boom"), sentinel), "run")

	assert.True(t, Is(err, sentinel))
	assert.Equal(t, "run: boom", err.Error())
}

func TestWithSecondaryErrorKeepsPrimaryMessage(t *testing.T) {
	primary := New("interrupted")
	err := WithSecondaryError(primary, New("context canceled"))

	assert.True(t, Is(err, primary))
	assert.Equal(t, "interrupted", err.Error())
	assert.Equal(t, "interrupted", UnwrapAll(err).Error())
}

func TestAssertionFailure(t *testing.T) {
	err := AssertionFailedf("invalid outcome %d", 9)

	assert.True(t, IsAssertionFailure(err))
	assert.False(t, IsAssertionFailure(Newf("invalid outcome %d", 9)))
}
