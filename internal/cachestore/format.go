package cachestore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/terrylica/kline-fcp/internal/kline"
)

// magic identifies a day-file as belonging to this cache format; schemaVersion
// lets future layout changes be detected and rejected rather than
// mis-parsed.
var magic = [4]byte{'K', 'F', 'C', 'P'}

const schemaVersion uint16 = 1

// recordWidth is the fixed per-row byte width: open_time(int64) + 8
// float64 fields (O,H,L,C,V,QV,TBV,TBQV) + trades(int64).
const recordWidth = 8 + 8*8 + 8

// encodeFrame serialises rows (already sorted by OpenTime) into w using a
// self-describing header (magic, schema version, row count) followed by
// fixed-width records, mirroring the teacher's own resolution for lacking
// a real columnar encoder: an explicit, versioned binary layout instead of
// a third-party format.
func encodeFrame(w io.Writer, rows []kline.Row) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, schemaVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(rows))); err != nil {
		return err
	}
	for _, r := range rows {
		if err := binary.Write(bw, binary.BigEndian, r.OpenTime.UnixMicro()); err != nil {
			return err
		}
		fields := [8]float64{r.Open, r.High, r.Low, r.Close, r.Volume, r.QuoteVolume, r.TakerBuyVolume, r.TakerBuyQuoteVolume}
		if err := binary.Write(bw, binary.BigEndian, fields); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, r.Trades); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// decodeFrame parses the format written by encodeFrame. closeTimeFor
// derives CloseTime from OpenTime per the interval's grid width, since
// CloseTime is not stored on disk (it is derivable and storing it would
// be redundant).
func decodeFrame(r io.Reader, closeTimeFor func(time.Time) time.Time) ([]kline.Row, error) {
	br := bufio.NewReader(r)
	var gotMagic [4]byte
	if _, err := io.ReadFull(br, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("cachestore: short read on magic: %w", err)
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("cachestore: bad magic %q", gotMagic)
	}
	var version uint16
	if err := binary.Read(br, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != schemaVersion {
		return nil, fmt.Errorf("cachestore: unsupported schema version %d", version)
	}
	var count uint32
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	rows := make([]kline.Row, 0, count)
	for i := uint32(0); i < count; i++ {
		var openMicros int64
		if err := binary.Read(br, binary.BigEndian, &openMicros); err != nil {
			return nil, err
		}
		var fields [8]float64
		if err := binary.Read(br, binary.BigEndian, &fields); err != nil {
			return nil, err
		}
		var trades int64
		if err := binary.Read(br, binary.BigEndian, &trades); err != nil {
			return nil, err
		}
		openTime := time.UnixMicro(openMicros).UTC()
		rows = append(rows, kline.Row{
			OpenTime:            openTime,
			Open:                fields[0],
			High:                fields[1],
			Low:                 fields[2],
			Close:               fields[3],
			Volume:              fields[4],
			QuoteVolume:         fields[5],
			TakerBuyVolume:      fields[6],
			TakerBuyQuoteVolume: fields[7],
			Trades:              trades,
			CloseTime:           closeTimeFor(openTime),
			Source:              kline.SourceCache,
		})
	}
	return rows, nil
}
