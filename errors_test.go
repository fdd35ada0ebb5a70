package bootvfs

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"Nil", nil, StatusSuccess},
		{"EOF", io.EOF, StatusSuccess},
		{"WrappedEOF", fmt.Errorf("readdir: %w", io.EOF), StatusSuccess},
		{"OutOfMemory", ErrOutOfMemory, StatusOutOfMemory},
		{"IO", fmt.Errorf("read block 7: %w", ErrIO), StatusIOError},
		{"Unsupported", ErrUnsupported, StatusUnsupported},
		{"NotFound", fmt.Errorf("lookup: %w", ErrNotFound), StatusNotFound},
		{"SymlinkLoop", ErrSymlinkLoop, StatusNotFound},
		{"Corrupted", ErrVolumeCorrupted, StatusVolumeCorrupted},
		{"Leak", ErrNodeLeak, StatusUnknownError},
		{"Foreign", fmt.Errorf("something else"), StatusUnknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}

	assert.Equal(t, "volume corrupted", StatusVolumeCorrupted.String())
}
