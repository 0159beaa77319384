package mmdb

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/pinpoint-geo/pinpoint/mmdb/mmdbtest"
)

type DecoderTestSuite struct {
	suite.Suite
}

func (suite *DecoderTestSuite) decodeOne(values ...interface{}) (interface{}, error) {
	buffer, err := mmdbtest.Encode(values...)

	suite.NoError(err)

	value, _, err := decoder{buffer: buffer}.decode(0)

	return value, err
}

func (suite *DecoderTestSuite) TestRoundTripScalars() {
	testTable := []interface{}{
		"",
		"Mountain View",
		"ドメイン名例", // multibyte utf-8 survives as-is
		[]byte{0xde, 0xad, 0xbe, 0xef},
		true,
		false,
		float64(37.386),
		float32(0.5),
		uint16(0),
		uint16(65535),
		uint32(4294967295),
		uint64(1<<63 + 1),
		int32(-271828),
		int32(42),
	}

	for _, expected := range testTable {
		value, err := suite.decodeOne(expected)

		suite.NoError(err)
		suite.Equal(expected, value)
	}
}

func (suite *DecoderTestSuite) TestRoundTripUint128() {
	expected := new(big.Int).Lsh(big.NewInt(1), 120)

	value, err := suite.decodeOne(expected)

	suite.NoError(err)
	suite.Equal(0, expected.Cmp(value.(*big.Int)))
}

func (suite *DecoderTestSuite) TestRoundTripMapping() {
	expected := map[string]interface{}{
		"city": map[string]interface{}{
			"names": map[string]interface{}{"en": "Mountain View"},
		},
		"location": map[string]interface{}{
			"latitude":        37.386,
			"longitude":       -122.0838,
			"accuracy_radius": uint16(1000),
		},
		"subdivisions": []interface{}{
			map[string]interface{}{
				"names": map[string]interface{}{"en": "California"},
			},
		},
		"is_anycast": true,
	}

	value, err := suite.decodeOne(expected)

	suite.NoError(err)
	suite.Equal(expected, value)
}

func (suite *DecoderTestSuite) TestRoundTripLongString() {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}

	value, err := suite.decodeOne(string(long))

	suite.NoError(err)
	suite.Equal(string(long), value)
}

func (suite *DecoderTestSuite) TestPointerIsTransparent() {
	buffer, err := mmdbtest.Encode("shared value")

	suite.NoError(err)

	pointerBytes, err := mmdbtest.Encode(mmdbtest.Pointer(0))

	suite.NoError(err)

	offset := uint(len(buffer))
	buffer = append(buffer, pointerBytes...)

	value, _, err := decoder{buffer: buffer}.decode(offset)

	suite.NoError(err)
	suite.Equal("shared value", value)
}

func (suite *DecoderTestSuite) TestPointerLoopIsBounded() {
	// a pointer at offset 0 which targets offset 0.
	buffer := []byte{0x20, 0x00}

	_, _, err := decoder{buffer: buffer}.decode(0)

	suite.ErrorIs(err, ErrPointerTooDeep)
}

func (suite *DecoderTestSuite) TestTruncatedValue() {
	// a string which claims 4 bytes with none behind it.
	buffer := []byte{0x44}

	_, _, err := decoder{buffer: buffer}.decode(0)

	suite.ErrorIs(err, ErrBufferOverrun)
}

func (suite *DecoderTestSuite) TestUnexpectedTypeTag() {
	// an extended tag pointing at the data cache container type.
	buffer := []byte{0x00, 0x05}

	_, _, err := decoder{buffer: buffer}.decode(0)

	suite.ErrorIs(err, ErrCorruptDatabase)
}

func (suite *DecoderTestSuite) TestMapKeyMustBeString() {
	buffer, err := mmdbtest.Encode(uint16(1))

	suite.NoError(err)

	// a map of 1 item whose key is not a string.
	buffer = append([]byte{0xe1}, buffer...)

	_, _, err = decoder{buffer: buffer}.decode(0)

	suite.ErrorIs(err, ErrCorruptDatabase)
}

func TestDecoder(t *testing.T) {
	suite.Run(t, &DecoderTestSuite{})
}
