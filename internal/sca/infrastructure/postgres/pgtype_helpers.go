package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"psd2gateway/internal/sca/domain"
)

func decimalToNumeric(value decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{
		Int:   value.Coefficient(),
		Exp:   value.Exponent(),
		Valid: true,
	}
}

func numericToDecimal(value pgtype.Numeric) (decimal.Decimal, error) {
	if !value.Valid {
		return decimal.Decimal{}, fmt.Errorf("numeric is NULL")
	}
	if value.NaN {
		return decimal.Decimal{}, fmt.Errorf("numeric is NaN")
	}
	if value.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, fmt.Errorf("numeric is %s", value.InfinityModifier)
	}

	intVal := value.Int
	if intVal == nil {
		intVal = big.NewInt(0)
	}

	return decimal.NewFromBigInt(intVal, value.Exp), nil
}

func timeToTimestamptz(value time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{
		Time:  value,
		Valid: !value.IsZero(),
	}
}

func timestamptzToTime(value pgtype.Timestamptz) (time.Time, error) {
	if !value.Valid {
		return time.Time{}, fmt.Errorf("timestamp is NULL")
	}
	if value.InfinityModifier != pgtype.Finite {
		return time.Time{}, fmt.Errorf("timestamp is %s", value.InfinityModifier)
	}
	return value.Time, nil
}

// optionalTime maps NULL to the zero time.
func optionalTime(value pgtype.Timestamptz) (time.Time, error) {
	if !value.Valid {
		return time.Time{}, nil
	}
	return timestamptzToTime(value)
}

func textFromString(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func encodePsuList(psus []domain.PsuIdData) ([]byte, error) {
	if psus == nil {
		psus = []domain.PsuIdData{}
	}
	return json.Marshal(psus)
}

func decodePsuList(raw []byte) ([]domain.PsuIdData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var psus []domain.PsuIdData
	if err := json.Unmarshal(raw, &psus); err != nil {
		return nil, err
	}
	if len(psus) == 0 {
		return nil, nil
	}
	return psus, nil
}
