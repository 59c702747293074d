package war

import "errors"

// Expected domain conflicts. Returned as values and matched with
// errors.Is; they never indicate an infrastructure fault.
var (
	ErrAlreadyReserved = errors.New("target already reserved by this member")
	ErrTargetFull      = errors.New("target has no free reservation slot")
	ErrNoAttacksLeft   = errors.New("member has no attacks left")
	ErrReservationCap  = errors.New("member already holds the maximum reservations")
	ErrNotReserved     = errors.New("member has not reserved this target")

	ErrWarNotFound    = errors.New("war not found")
	ErrTargetNotFound = errors.New("target not found")

	ErrWarEnded           = errors.New("war has ended")
	ErrAlreadyEnded       = errors.New("war already ended")
	ErrDuplicateActiveWar = errors.New("an active war already exists for this channel")

	ErrInvalidConfidence = errors.New("confidence must be between 10 and 100")
	ErrInvalidResult     = errors.New("result must have 0-3 stars and 0-100 destruction")
)

// Feed outcomes. The reconciler absorbs all of these as a no-op cycle.
var (
	ErrFeedNotActive    = errors.New("clan is not in an active war")
	ErrFeedAccessDenied = errors.New("feed access denied")
	ErrFeedUnavailable  = errors.New("feed unavailable")
)

var domainErrs = []error{
	ErrAlreadyReserved, ErrTargetFull, ErrNoAttacksLeft, ErrReservationCap,
	ErrNotReserved, ErrWarNotFound, ErrTargetNotFound, ErrWarEnded,
	ErrAlreadyEnded, ErrDuplicateActiveWar, ErrInvalidConfidence,
	ErrInvalidResult,
}

// IsDomainErr reports whether err is an expected domain outcome rather
// than a storage fault.
func IsDomainErr(err error) bool {
	for _, d := range domainErrs {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

func IsFeedErr(err error) bool {
	return errors.Is(err, ErrFeedNotActive) ||
		errors.Is(err, ErrFeedAccessDenied) ||
		errors.Is(err, ErrFeedUnavailable)
}
