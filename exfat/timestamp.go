package exfat

import "time"

// exfatEpoch is 1980-01-01 00:00:00 local time, the earliest representable
// exFAT timestamp -- the same epoch FAT uses.
var exfatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.Local)

// TimestampCodec converts between exFAT's packed 32-bit date/time fields
// (plus the 10ms increment and UTC offset bytes some entries carry) and
// time.Time. Mount itself does not decode timestamps: Node carries the raw
// packed values, and callers convert them with the default codec below or
// with their own implementation if they need a different timezone policy.
type TimestampCodec interface {
	Decode(packed uint32, tenMs byte, utcOffset byte) time.Time
	Encode(t time.Time) (packed uint32, tenMs byte, utcOffset byte)
}

// defaultTimestampCodec implements the plain FAT-style packed timestamp,
// extended with exFAT's 10ms increment field. The UTC offset byte is ignored
// by Decode and written as 0 by Encode; times are treated as local,
// matching libexfat's own treatment of local-relative display times.
type defaultTimestampCodec struct{}

// DefaultTimestampCodec is the package's ready-made TimestampCodec.
var DefaultTimestampCodec TimestampCodec = defaultTimestampCodec{}

func dateFromInt(value uint16) time.Time {
	day := int(value & 0x001f)
	month := time.Month((value >> 5) & 0x000f)
	year := 1980 + int(value>>9)
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

func dateToInt(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	return uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
}

func (defaultTimestampCodec) Decode(packed uint32, tenMs byte, _ byte) time.Time {
	datePart := uint16(packed >> 16)
	timePart := uint16(packed & 0xFFFF)

	base := dateFromInt(datePart)

	seconds := int(timePart&0x001f) * 2
	millis := int(tenMs) * 10
	if millis >= 1000 {
		seconds++
		millis -= 1000
	}
	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)

	return time.Date(
		base.Year(), base.Month(), base.Day(),
		hours, minutes, seconds, millis*1_000_000, time.Local,
	)
}

func (defaultTimestampCodec) Encode(t time.Time) (uint32, byte, byte) {
	if t.Before(exfatEpoch) {
		t = exfatEpoch
	}

	datePart := dateToInt(t)
	timePart := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)

	tenMs := byte((t.Second()%2)*100 + t.Nanosecond()/10_000_000)
	return uint32(datePart)<<16 | uint32(timePart), tenMs, 0
}
