package kline

import (
	"fmt"
	"time"

	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// ErrUnrecognisedTimestampUnit is returned when a raw inbound timestamp's
// digit width matches neither the 13-digit millisecond convention nor the
// 16-digit microsecond convention introduced by the archive's later
// cutover.
type ErrUnrecognisedTimestampUnit struct {
	Raw int64
}

func (e ErrUnrecognisedTimestampUnit) Error() string {
	return fmt.Sprintf("kline: unrecognised timestamp unit for raw value %d", e.Raw)
}

// DetectAndConvert classifies a raw inbound timestamp by digit count and
// converts it to UTC. This codifies the documented archive cutover:
// 13 digits means milliseconds, 16 digits means microseconds.
func DetectAndConvert(raw int64) (time.Time, error) {
	unit, err := timegrid.ParseEpochDigits(raw)
	if err != nil {
		return time.Time{}, ErrUnrecognisedTimestampUnit{Raw: raw}
	}
	switch unit {
	case "ms":
		return time.UnixMilli(raw).UTC(), nil
	case "us":
		return time.UnixMicro(raw).UTC(), nil
	default:
		return time.Time{}, ErrUnrecognisedTimestampUnit{Raw: raw}
	}
}
