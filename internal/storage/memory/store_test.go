package memory_test

import (
	"testing"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/storage/memory"
	"github.com/Rishiwins/attendance-tracker/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) attendance.Store { return memory.New() })
}
