package api

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

func parseFeedID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid feed id %q", s)
	}
	return id, nil
}

func validateCounterQuery(sourceEnv, date string) error {
	if sourceEnv == "" {
		return errors.New("source_env is required")
	}
	if date == "" {
		return errors.New("date is required")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD")
	}
	return nil
}
