package models

import "time"

// ScheduleFlags classifies one credential request against the expiry windows.
// At most the deletion flag combines with others; the consumer checks them in
// priority order delete > decline > notify.
type ScheduleFlags struct {
	ToDecline      bool
	ToDelete       bool
	NotifyOneDay   bool
	NotifyTwoWeeks bool
	NotifyOneMonth bool
}

// Any reports whether the row matches at least one window; rows matching none
// are excluded at the query level.
func (f ScheduleFlags) Any() bool {
	return f.ToDecline || f.ToDelete || f.NotifyOneDay || f.NotifyTwoWeeks || f.NotifyOneMonth
}

// ComputeSchedule evaluates the five expiry windows for a request.
// detailExpiry is the expiry of the linked external-type-detail version, if any.
//
// The ONE_MONTH window is evaluated against now+2 months; the name is
// historical and the threshold is kept as observed behavior.
func ComputeSchedule(req *CredentialRequest, detailExpiry *time.Time, now, inactiveCutoff, expiredCutoff time.Time) ScheduleFlags {
	oneDay := now.AddDate(0, 0, 1)
	twoWeeks := now.AddDate(0, 0, 14)
	oneMonth := now.AddDate(0, 2, 0)

	var f ScheduleFlags

	f.ToDecline = req.Status == StatusPending && detailExpiry != nil && detailExpiry.Before(now)

	f.ToDelete = (req.Status == StatusInactive && req.CreatedAt.Before(inactiveCutoff)) ||
		((req.Status == StatusActive || req.Status == StatusInactive) && req.ExpiryDate != nil && req.ExpiryDate.Before(expiredCutoff))

	if req.Status == StatusActive && req.ExpiryDate != nil {
		expiry := *req.ExpiryDate
		marker := req.ExpiryCheckMarker
		f.NotifyOneDay = !expiry.After(oneDay) &&
			(marker == MarkerNone || marker == MarkerTwoWeeks || marker == MarkerOneMonth)
		f.NotifyTwoWeeks = expiry.After(oneDay) && !expiry.After(twoWeeks) &&
			(marker == MarkerNone || marker == MarkerOneMonth)
		f.NotifyOneMonth = expiry.After(twoWeeks) && !expiry.After(oneMonth) &&
			marker == MarkerNone
	}

	return f
}
