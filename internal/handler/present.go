package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
)

// locationFromQuery resolves the ?tz= parameter. An empty value means UTC.
func locationFromQuery(r *http.Request) (*time.Location, error) {
	tz := strings.TrimSpace(r.URL.Query().Get("tz"))
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "Local" {
		return nil, fmt.Errorf("invalid timezone: %s", tz)
	}
	return loc, nil
}

func sessionView(s model.Session, loc *time.Location) model.SessionView {
	return model.SessionView{
		ID:                s.ID,
		Name:              s.Name,
		Instructor:        s.Instructor,
		StartTime:         s.StartTime.In(loc).Format(time.RFC3339),
		StartTimeEpoch:    s.StartTime.Unix(),
		RemainingCapacity: s.RemainingCapacity,
		Timezone:          loc.String(),
	}
}

func sessionViews(sessions []model.Session, loc *time.Location) []model.SessionView {
	views := make([]model.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView(s, loc))
	}
	return views
}

func bookingView(b model.Booking, sessionName string, loc *time.Location) model.BookingView {
	return model.BookingView{
		ID:             b.ID,
		SessionID:      b.SessionID,
		SessionName:    sessionName,
		ClientName:     b.ClientName,
		ClientEmail:    b.ClientEmail,
		CreatedAt:      b.CreatedAt.In(loc).Format(time.RFC3339),
		CreatedAtEpoch: b.CreatedAt.Unix(),
	}
}
