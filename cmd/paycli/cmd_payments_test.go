package main

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/record"
	"lukechampine.com/uint128"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    string
		expected hexcodec.U128
		valid    bool
	}{
		{
			name:     "decimal",
			value:    "1000",
			expected: hexcodec.U128From64(1000),
			valid:    true,
		},
		{
			name:     "hex",
			value:    "0x3e8",
			expected: hexcodec.U128From64(1000),
			valid:    true,
		},
		{
			name:  "beyond 64 bits",
			value: "0x10000000000000000",
			expected: hexcodec.NewU128(
				uint128.New(0, 1),
			),
			valid: true,
		},
		{
			name:  "negative",
			value: "-1",
		},
		{
			name:  "bad hex",
			value: "0xzz",
		},
	}

	for _, testCase := range tests {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			amt, err := parseAmount(testCase.value)
			if !testCase.valid {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.expected, amt)
		})
	}
}

func TestParseCustomRecords(t *testing.T) {
	t.Parallel()

	records, err := parseCustomRecords([]string{
		"1=0102", "0x10=0xff", "65535=00",
	})
	require.NoError(t, err)
	require.Equal(t, record.CustomRecords{
		1:     {0x01, 0x02},
		16:    {0xff},
		65535: {0x00},
	}, records)

	// Keys above the user range are refused.
	_, err = parseCustomRecords([]string{"65536=01"})
	require.ErrorIs(t, err, record.ErrInvalidCustomRecords)

	_, err = parseCustomRecords([]string{"1"})
	require.Error(t, err)

	_, err = parseCustomRecords([]string{"abc=01"})
	require.Error(t, err)

	_, err = parseCustomRecords([]string{"1=0g"})
	require.Error(t, err)
}
