package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/go-exfat/exfatcore/errors"
	"github.com/stretchr/testify/assert"
)

func TestFSErrorWithMessage(t *testing.T) {
	err := errors.NotFound.WithMessage("child \"a.txt\" not in directory")
	assert.Equal(
		t,
		"no such file or directory: child \"a.txt\" not in directory",
		err.Error(),
	)
	assert.ErrorIs(t, err, errors.NotFound)
}

func TestFSErrorWrap(t *testing.T) {
	cause := stderrors.New("short read from device")
	err := errors.IoDevice.Wrap(cause)

	assert.Equal(t, "input/output error: short read from device", err.Error())
	assert.ErrorIs(t, err, errors.IoDevice)
	assert.ErrorIs(t, err, cause)
}

func TestCountIncrementsOnConstruction(t *testing.T) {
	before := errors.Count()
	_ = errors.NoSpace.WithMessage("cmap exhausted")
	_ = errors.NotEmpty.WithMessage("directory has children")
	assert.Equal(t, before+2, errors.Count())
}
