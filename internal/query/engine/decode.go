package engine

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode maps rows onto values of T. Fields are matched through mapstructure
// tags and values are weakly converted, so numeric strings fill int fields
// and RFC 3339 strings fill time.Time fields.
func Decode[T any](rows []map[string]interface{}) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		var v T
		if err := decodeInto(row, &v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeOne maps a single row onto T. A nil row yields nil.
func DecodeOne[T any](row map[string]interface{}) (*T, error) {
	if row == nil {
		return nil, nil
	}
	var v T
	if err := decodeInto(row, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeInto(row map[string]interface{}, target interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(row)
}
