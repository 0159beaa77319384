package geodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type nullLogger struct{}

func (n nullLogger) LookupError(ip string, err error) {}

func (n nullLogger) UpdateInfo(msg string) {}

func (n nullLogger) UpdateError(err error) {}

type LocatorTestSuite struct {
	suite.Suite

	slot    *Slot
	locator *Locator
}

func (suite *LocatorTestSuite) SetupTest() {
	suite.slot = NewSlot()

	locator, err := NewLocator(suite.slot, nullLogger{}, 16, 16)

	suite.NoError(err)

	suite.locator = locator
}

func (suite *LocatorTestSuite) TearDownTest() {
	suite.locator.Shutdown()
}

func (suite *LocatorTestSuite) activate(city string) {
	handle := NewHandle(buildTestReader(suite.T(), city), city+".mmdb", nil)

	if previous := suite.slot.Swap(handle); previous != nil {
		previous.Release()
	}
}

func (suite *LocatorTestSuite) TestInvalidIP() {
	suite.activate("Mountain View")

	for _, v := range []string{"", "not-an-ip", "999.999.1.1", "8.8.8"} {
		_, err := suite.locator.Lookup(context.Background(), v)

		suite.ErrorIs(err, ErrInvalidIP, v)
	}
}

func (suite *LocatorTestSuite) TestDatabaseNotReady() {
	_, err := suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.ErrorIs(err, ErrDatabaseNotReady)
}

func (suite *LocatorTestSuite) TestNotFound() {
	suite.activate("Mountain View")

	_, err := suite.locator.Lookup(context.Background(), "192.0.2.1")

	suite.ErrorIs(err, ErrNotFound)
}

func (suite *LocatorTestSuite) TestFound() {
	suite.activate("Mountain View")

	rv, err := suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.NoError(err)
	suite.Equal("8.8.8.8", rv.IP)
	suite.Require().NotNil(rv.City)
	suite.Equal("Mountain View", *rv.City)
	suite.Require().NotNil(rv.CountryCode)
	suite.Equal("US", *rv.CountryCode)
	suite.Require().NotNil(rv.Country)
	suite.Equal("United States", *rv.Country)
	suite.Require().NotNil(rv.Latitude)
	suite.InDelta(37.386, *rv.Latitude, 0.001)
	suite.Require().NotNil(rv.Longitude)
	suite.InDelta(-122.0838, *rv.Longitude, 0.001)
	suite.Require().NotNil(rv.Timezone)
	suite.NotNil(rv.AccuracyRadius)
}

func (suite *LocatorTestSuite) TestCanonicalCacheKey() {
	suite.activate("Mountain View")

	rv, err := suite.locator.Lookup(context.Background(), "::ffff:8.8.8.8")

	suite.NoError(err)

	// mapped addresses collapse to their canonical form.
	suite.Equal("8.8.8.8", rv.IP)
}

func (suite *LocatorTestSuite) TestSwapSupersedesCachedResults() {
	suite.activate("Mountain View")

	rv, err := suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.NoError(err)
	suite.Equal("Mountain View", *rv.City)

	// even before the swap hook purges the cache, an entry of the
	// superseded generation must not be served.
	suite.activate("Palo Alto")

	rv, err = suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.NoError(err)
	suite.Equal("Palo Alto", *rv.City)
}

func (suite *LocatorTestSuite) TestStaleEntryAfterPurgeIsIgnored() {
	suite.activate("Mountain View")

	_, err := suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.NoError(err)

	suite.activate("Palo Alto")
	suite.locator.InvalidateCache()

	// a lookup which resolved against the old generation can finish
	// caching only after the purge. Emulate exactly that interleaving.
	city := "Mountain View"
	suite.locator.cache.Add("8.8.8.8", cacheEntry{
		path:   "Mountain View.mmdb",
		result: LookupResult{IP: "8.8.8.8", City: &city},
	})

	rv, err := suite.locator.Lookup(context.Background(), "8.8.8.8")

	suite.NoError(err)
	suite.Equal("Palo Alto", *rv.City)
}

func (suite *LocatorTestSuite) TestResolveAll() {
	suite.activate("Mountain View")

	results, err := suite.locator.ResolveAll(context.Background(),
		[]string{"8.8.8.8", "not-an-ip", "192.0.2.1", "8.8.8.1"})

	suite.NoError(err)
	suite.Require().Len(results, 4)

	suite.Equal("8.8.8.8", results[0].IP)
	suite.Require().NotNil(results[0].Location)
	suite.Equal("Mountain View", *results[0].Location.City)
	suite.Empty(results[0].Error)

	suite.Equal("not-an-ip", results[1].IP)
	suite.Nil(results[1].Location)
	suite.Equal(ErrInvalidIP.Error(), results[1].Error)

	suite.Equal("192.0.2.1", results[2].IP)
	suite.Nil(results[2].Location)
	suite.Equal(ErrNotFound.Error(), results[2].Error)

	suite.Equal("8.8.8.1", results[3].IP)
	suite.Require().NotNil(results[3].Location)
}

func TestLocator(t *testing.T) {
	suite.Run(t, &LocatorTestSuite{})
}
