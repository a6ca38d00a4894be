package ipfix

import "time"

// NTPEpoch is the origin (1900-01-01T00:00:00Z) that dateTimeMicroseconds and
// dateTimeNanoseconds encode offsets from, per RFC 7011 section 6.1.9.
var NTPEpoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

func IsEnterpriseField(fieldId uint16) bool {
	return fieldId>>15 == 1
}

func IsVariableLength(fieldLength uint16) bool {
	return fieldLength == 0xFFFF
}
