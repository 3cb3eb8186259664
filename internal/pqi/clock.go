package pqi

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so business logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// TimestampIDGenerator produces ids of the form <epoch-millis>-<suffix>,
// matching the client-generated record ids the remote system already stores.
type TimestampIDGenerator struct {
	clock Clock
}

func NewTimestampIDGenerator(clock Clock) *TimestampIDGenerator {
	return &TimestampIDGenerator{clock: clock}
}

func (g *TimestampIDGenerator) New() string {
	return fmt.Sprintf("%d-%06d", g.clock.Now().UnixMilli(), rand.IntN(1000000))
}
