package geodb

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/pinpoint-geo/pinpoint/mmdb"
	"github.com/pinpoint-geo/pinpoint/mmdb/mmdbtest"
)

func buildTestReader(t *testing.T, city string) *mmdb.Reader {
	builder := mmdbtest.New()
	builder.Add("8.8.8.0/24", mmdbtest.CityRecord(city, "US", "United States", 37.386, -122.0838))

	buffer, err := builder.Build()
	if err != nil {
		t.Fatal(err)
	}

	reader, err := mmdb.FromBytes(buffer)
	if err != nil {
		t.Fatal(err)
	}

	return reader
}

type SlotTestSuite struct {
	suite.Suite

	slot *Slot
}

func (suite *SlotTestSuite) SetupTest() {
	suite.slot = NewSlot()
}

func (suite *SlotTestSuite) TestEmptySlot() {
	_, err := suite.slot.Get()

	suite.ErrorIs(err, ErrDatabaseNotReady)
}

func (suite *SlotTestSuite) TestGetReleases() {
	closed := atomic.NewBool(false)
	handle := NewHandle(buildTestReader(suite.T(), "Mountain View"), "a.mmdb",
		func(*Handle) { closed.Store(true) })

	suite.Nil(suite.slot.Swap(handle))

	acquired, err := suite.slot.Get()

	suite.NoError(err)
	suite.Same(handle, acquired)

	acquired.Release()

	suite.False(closed.Load())
}

func (suite *SlotTestSuite) TestSwapDefersReclamation() {
	closed := atomic.NewBool(false)
	oldHandle := NewHandle(buildTestReader(suite.T(), "Mountain View"), "old.mmdb",
		func(*Handle) { closed.Store(true) })

	suite.slot.Swap(oldHandle)

	reading, err := suite.slot.Get()

	suite.NoError(err)

	newHandle := NewHandle(buildTestReader(suite.T(), "Palo Alto"), "new.mmdb", nil)

	previous := suite.slot.Swap(newHandle)

	suite.Same(oldHandle, previous)

	previous.Release()

	// the in-flight reader still holds the old generation.
	suite.False(closed.Load())

	_, lookupErr := reading.Reader().Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(lookupErr)

	reading.Release()

	suite.True(closed.Load())
}

func (suite *SlotTestSuite) TestConcurrentLookupsAcrossSwaps() {
	const (
		readers = 32
		swaps   = 50
	)

	closedCount := atomic.NewInt64(0)

	makeHandle := func(name string) *Handle {
		return NewHandle(buildTestReader(suite.T(), "Mountain View"), name,
			func(*Handle) { closedCount.Inc() })
	}

	suite.slot.Swap(makeHandle("gen-0.mmdb"))

	stop := atomic.NewBool(false)
	wg := &sync.WaitGroup{}

	for i := 0; i < readers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for !stop.Load() {
				handle, err := suite.slot.Get()
				if err != nil {
					suite.Fail("slot must never be empty here")

					return
				}

				record, err := handle.Reader().Lookup(net.ParseIP("8.8.8.8"))

				suite.NoError(err)
				suite.NotNil(record)

				handle.Release()
			}
		}()
	}

	for i := 1; i <= swaps; i++ {
		previous := suite.slot.Swap(makeHandle("gen.mmdb"))
		previous.Release()
	}

	stop.Store(true)
	wg.Wait()

	// every superseded generation was reclaimed, the active one was
	// not.
	suite.EqualValues(swaps, closedCount.Load())
}

func TestSlot(t *testing.T) {
	suite.Run(t, &SlotTestSuite{})
}
