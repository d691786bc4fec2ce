package calendar

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// FetchAlpaca builds a Calendar covering [first, last] from the Alpaca
// trading-calendar API. Weekdays absent from the API response are treated
// as holidays. Useful when watching US instruments through the Alpaca feed,
// where no static holiday table is maintained locally.
func FetchAlpaca(apiKey, apiSecret, baseURL string, first, last time.Time) (*Calendar, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: first,
		End:   last,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days returned from calendar for %s..%s",
			first.Format(dateLayout), last.Format(dateLayout))
	}

	dates := make(map[string]bool, len(days))
	for _, day := range days {
		dates[day.Date] = true
	}
	return fromTradingDates(first, last, dates), nil
}
