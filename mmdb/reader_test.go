package mmdb_test

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/pinpoint-geo/pinpoint/mmdb"
	"github.com/pinpoint-geo/pinpoint/mmdb/mmdbtest"
)

type ReaderTestSuite struct {
	suite.Suite

	reader *mmdb.Reader
}

func (suite *ReaderTestSuite) SetupTest() {
	builder := mmdbtest.New()
	builder.BuildTime = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	builder.Add("8.8.8.0/24",
		mmdbtest.CityRecord("Mountain View", "US", "United States", 37.386, -122.0838))
	builder.Add("81.2.69.142/31", map[string]interface{}{
		"city":    map[string]interface{}{"names": map[string]interface{}{"en": "London"}},
		"country": map[string]interface{}{"iso_code": "GB"},
	})
	builder.Add("2001:4860:4860::/48", map[string]interface{}{
		"country": map[string]interface{}{"iso_code": "US"},
	})

	buffer, err := builder.Build()

	suite.NoError(err)

	reader, err := mmdb.FromBytes(buffer)

	suite.NoError(err)

	suite.reader = reader
}

func (suite *ReaderTestSuite) TestMetadata() {
	suite.EqualValues(6, suite.reader.Metadata.IPVersion)
	suite.EqualValues(32, suite.reader.Metadata.RecordSize)
	suite.Equal(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), suite.reader.Metadata.BuildTime())
}

func (suite *ReaderTestSuite) TestLookupIPv4() {
	record, err := suite.reader.Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(err)

	city := record["city"].(map[string]interface{})["names"].(map[string]interface{})["en"]
	country := record["country"].(map[string]interface{})["iso_code"]

	suite.Equal("Mountain View", city)
	suite.Equal("US", country)
}

func (suite *ReaderTestSuite) TestLookupWholeNetwork() {
	for _, v := range []string{"8.8.8.0", "8.8.8.128", "8.8.8.255"} {
		record, err := suite.reader.Lookup(net.ParseIP(v))

		suite.NoError(err)
		suite.Equal("US", record["country"].(map[string]interface{})["iso_code"])
	}
}

func (suite *ReaderTestSuite) TestLookupMappedIPv4() {
	record, err := suite.reader.Lookup(net.ParseIP("::ffff:81.2.69.142"))

	suite.NoError(err)
	suite.Equal("GB", record["country"].(map[string]interface{})["iso_code"])
}

func (suite *ReaderTestSuite) TestLookupIPv6() {
	record, err := suite.reader.Lookup(net.ParseIP("2001:4860:4860::8888"))

	suite.NoError(err)
	suite.Equal("US", record["country"].(map[string]interface{})["iso_code"])
}

func (suite *ReaderTestSuite) TestLookupNotFound() {
	for _, v := range []string{"192.0.2.1", "10.0.0.1", "2001:db8::1"} {
		_, err := suite.reader.Lookup(net.ParseIP(v))

		suite.ErrorIs(err, mmdb.ErrNotFound, v)
	}
}

func (suite *ReaderTestSuite) TestRecordSizes() {
	for _, recordSize := range []int{24, 28, 32} {
		builder := mmdbtest.New()
		builder.RecordSize = recordSize
		builder.Add("8.8.8.0/24",
			mmdbtest.CityRecord("Mountain View", "US", "United States", 37.386, -122.0838))

		buffer, err := builder.Build()

		suite.NoError(err)

		reader, err := mmdb.FromBytes(buffer)

		suite.NoError(err)

		record, err := reader.Lookup(net.ParseIP("8.8.8.8"))

		suite.NoError(err)

		city := record["city"].(map[string]interface{})["names"].(map[string]interface{})["en"]

		suite.Equal("Mountain View", city)

		_, err = reader.Lookup(net.ParseIP("192.0.2.1"))

		suite.ErrorIs(err, mmdb.ErrNotFound)
	}
}

func (suite *ReaderTestSuite) TestV4OnlyDatabase() {
	builder := mmdbtest.New()
	builder.IPVersion = 4
	builder.Add("8.8.8.0/24", map[string]interface{}{
		"country": map[string]interface{}{"iso_code": "US"},
	})

	buffer, err := builder.Build()

	suite.NoError(err)

	reader, err := mmdb.FromBytes(buffer)

	suite.NoError(err)

	record, err := reader.Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(err)
	suite.Equal("US", record["country"].(map[string]interface{})["iso_code"])

	_, err = reader.Lookup(net.ParseIP("2001:db8::1"))

	suite.ErrorIs(err, mmdb.ErrNotFound)
}

func (suite *ReaderTestSuite) TestOpenFile() {
	builder := mmdbtest.New()
	builder.Add("8.8.8.0/24",
		mmdbtest.CityRecord("Mountain View", "US", "United States", 37.386, -122.0838))

	buffer, err := builder.Build()

	suite.NoError(err)

	path := filepath.Join(suite.T().TempDir(), "city.mmdb")

	suite.NoError(ioutil.WriteFile(path, buffer, 0666))

	reader, err := mmdb.Open(path)

	suite.NoError(err)

	// the reader holds no file descriptor, lookups survive a rename
	// of the backing file.
	suite.NoError(os.Rename(path, path+".renamed"))

	record, err := reader.Lookup(net.ParseIP("8.8.8.8"))

	suite.NoError(err)
	suite.Equal("US", record["country"].(map[string]interface{})["iso_code"])

	_, err = mmdb.Open(filepath.Join(suite.T().TempDir(), "missing.mmdb"))

	suite.Error(err)
}

func (suite *ReaderTestSuite) TestNoMetadataMarker() {
	_, err := mmdb.FromBytes(make([]byte, 1024))

	suite.ErrorIs(err, mmdb.ErrNoMetadata)
}

func (suite *ReaderTestSuite) TestTruncatedDatabase() {
	builder := mmdbtest.New()
	builder.Add("8.8.8.0/24", map[string]interface{}{
		"country": map[string]interface{}{"iso_code": "US"},
	})

	buffer, err := builder.Build()

	suite.NoError(err)

	// chop the search tree off but keep the metadata block intact:
	// implied tree length no longer fits.
	_, err = mmdb.FromBytes(buffer[len(buffer)-300:])

	suite.Error(err)
}

func TestReader(t *testing.T) {
	suite.Run(t, &ReaderTestSuite{})
}
