package email

import (
	"math"

	"github.com/gojob/email-sender/internal/domain"
)

// ComputeAnalytics summarizes delivery and engagement for e. Rates are
// percentages of the "to" list rounded to two decimals, and 0 when the
// list is empty.
func ComputeAnalytics(e *domain.Email) domain.Analytics {
	a := domain.Analytics{
		TotalRecipients: len(e.To),
		Opened:          len(e.OpenTracking.OpenedBy),
		Clicks:          len(e.ClickTracking.Clicks),
	}
	for _, d := range e.DeliveryStatus {
		switch d.Status {
		case domain.DeliverySent:
			a.Sent++
		case domain.DeliveryFailed:
			a.Failed++
		case domain.DeliveryDelivered:
			a.Delivered++
		}
	}
	if a.TotalRecipients > 0 {
		a.OpenRate = percent(a.Opened, a.TotalRecipients)
		a.ClickRate = percent(a.Clicks, a.TotalRecipients)
	}
	return a
}

func percent(part, whole int) float64 {
	return math.Round(float64(part)/float64(whole)*100*100) / 100
}
