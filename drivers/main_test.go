package drivers

import (
	"io"
	"os"
	"testing"

	"github.com/brettbedarf/bootvfs/internal/util"
)

func TestMain(m *testing.M) {
	util.InitializeLoggerTo(io.Discard, util.ErrorLevel)
	os.Exit(m.Run())
}
