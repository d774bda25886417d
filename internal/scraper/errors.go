package scraper

import "errors"

// ErrStaleHandle is returned by an item handle used after the page it came
// from was navigated away from.
var ErrStaleHandle = errors.New("item handle used after its page cycle ended")

// ErrInvalidGrowthSignal is returned when the page height is not a number.
var ErrInvalidGrowthSignal = errors.New("growth signal is not numeric")
